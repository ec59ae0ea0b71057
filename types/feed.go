package types

// FeedResponse represents the root structure of the app.bsky.feed.getFeed response.
type FeedResponse struct {
	Cursor string      `json:"cursor"`
	Feed   []FeedEntry `json:"feed"`
}

// FeedEntry represents each post in the feed.
type FeedEntry struct {
	Post Post `json:"post"`
}

// Post represents the structure of an individual post.
type Post struct {
	Author    Author `json:"author"`
	CID       string `json:"cid"`
	Embed     *Embed `json:"embed,omitempty"` // Nullable field
	IndexedAt string `json:"indexedAt"`
	Record    Record `json:"record"`
	URI       string `json:"uri"`
}

// ImageURL returns the first full size image attached to the post, or "".
func (p Post) ImageURL() string {
	if p.Embed == nil {
		return ""
	}
	if len(p.Embed.Images) > 0 {
		return p.Embed.Images[0].Fullsize
	}
	if p.Embed.Media != nil && len(p.Embed.Media.Images) > 0 {
		return p.Embed.Media.Images[0].Fullsize
	}
	return ""
}

// Author represents the author of a post.
type Author struct {
	DID         string `json:"did"`
	DisplayName string `json:"displayName"`
	Handle      string `json:"handle"`
}

// Embed is the hydrated view of an embed. Media is set for
// recordWithMedia embeds.
type Embed struct {
	Type   string       `json:"$type"`
	Images []ImageEmbed `json:"images,omitempty"`
	Media  *Embed       `json:"media,omitempty"`
}

// ImageEmbed represents an image embedded in a post.
type ImageEmbed struct {
	Alt      string `json:"alt"`
	Fullsize string `json:"fullsize"`
	Thumb    string `json:"thumb"`
}

// Record represents the content of a post.
type Record struct {
	Type      string   `json:"$type"`
	CreatedAt string   `json:"createdAt"`
	Langs     []string `json:"langs"`
	Text      string   `json:"text"`
}
