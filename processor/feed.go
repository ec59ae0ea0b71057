package processor

import (
	"context"
	"strings"
	"sync"

	"go-redzone/classifier"
	"go-redzone/types"
)

// FeedItemResult is the outcome of one feed post.
type FeedItemResult struct {
	URI            string `json:"uri"`
	Content        string `json:"content"`
	State          string `json:"state,omitempty"`
	Inserted       bool   `json:"inserted"`
	AlertTriggered bool   `json:"alertTriggered"`
	Error          string `json:"error,omitempty"`
}

// RunFeed runs every post of a feed page through the workflow concurrently.
// Posts with no text and no image are skipped.
func (w *Workflow) RunFeed(ctx context.Context, out types.FeedResponse) []FeedItemResult {
	resultsChan := make(chan FeedItemResult, len(out.Feed))
	var wg sync.WaitGroup

	for _, v := range out.Feed {
		if v.Post.URI == "" {
			continue
		}
		in := classifier.Input{
			Kind:      classifier.KindText,
			Text:      strings.TrimSpace(v.Post.Record.Text),
			ImageURL:  v.Post.ImageURL(),
			Timestamp: v.Post.Record.CreatedAt,
		}
		if in.Text == "" && !in.HasImage() {
			continue
		}

		wg.Add(1)
		go func(uri string) {
			defer wg.Done()
			item := FeedItemResult{URI: uri, Content: in.Text}
			res, err := w.Run(ctx, in)
			if err != nil {
				item.Error = err.Error()
				resultsChan <- item
				return
			}
			item.State = res.State
			item.Inserted = res.Inserted
			item.AlertTriggered = res.AlertTriggered
			if len(res.Errors) > 0 {
				var msgs []string
				for step, msg := range res.Errors {
					msgs = append(msgs, step+": "+msg)
				}
				item.Error = strings.Join(msgs, "; ")
			}
			resultsChan <- item
		}(v.Post.URI)
	}

	wg.Wait()
	close(resultsChan)

	resultsList := make([]FeedItemResult, 0, len(out.Feed))
	for result := range resultsChan {
		resultsList = append(resultsList, result)
	}
	return resultsList
}
