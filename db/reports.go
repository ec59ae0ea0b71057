package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"go-redzone/types"
)

const reportsCollection = "crisis_reports"

// FirestoreReports stores one document per distinct report text. The document
// id is the hash of the text, so a second insert of the same text is a no-op.
type FirestoreReports struct {
	client *firestore.Client
}

func NewFirestoreReports(client *firestore.Client) *FirestoreReports {
	return &FirestoreReports{client: client}
}

func (s *FirestoreReports) InsertIfAbsent(ctx context.Context, report types.ClassifiedReport) (bool, error) {
	if strings.TrimSpace(report.TweetText) == "" {
		return false, ErrEmptyText
	}
	ref := s.client.Collection(reportsCollection).Doc(HashString(report.TweetText))

	// Read and create share a transaction so concurrent inserts of the same
	// text report inserted=true exactly once.
	inserted := false
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		inserted = false
		if _, err := tx.Get(ref); err == nil {
			return nil
		} else if !isNotFound(err) {
			return fmt.Errorf("error getting report doc: %w", err)
		}
		if err := tx.Create(ref, reportDoc(report)); err != nil {
			return fmt.Errorf("failed to create report document: %w", err)
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func (s *FirestoreReports) Exists(ctx context.Context, text string) (bool, error) {
	_, err := s.client.Collection(reportsCollection).Doc(HashString(text)).Get(ctx)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("error getting report doc: %w", err)
}

func (s *FirestoreReports) ListByLocation(ctx context.Context, location string, limit int) ([]types.ClassifiedReport, error) {
	q := s.client.Collection(reportsCollection).
		Where("location", "==", location).
		OrderBy("createdAt", firestore.Desc) // latest first
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var reports []types.ClassifiedReport
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating reports: %w", err)
		}
		var r types.ClassifiedReport
		if err := doc.DataTo(&r); err != nil {
			return nil, fmt.Errorf("error converting document to ClassifiedReport: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, nil
}

func reportDoc(r types.ClassifiedReport) map[string]interface{} {
	return map[string]interface{}{
		"disasterType":           string(r.DisasterType),
		"informativeness":        r.Informativeness,
		"humanitarianCategories": r.HumanitarianCategories,
		"location":               r.Location,
		"damageSeverity":         r.DamageSeverity,
		"seriousnessScore":       r.SeriousnessScore,
		"tweetText":              r.TweetText,
		"imageURL":               r.ImageURL,
		"timestamp":              r.Timestamp,
		"createdAt":              time.Now().UTC(),
	}
}
