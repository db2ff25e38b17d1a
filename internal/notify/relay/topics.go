package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"

	"examen/internal/notify/models"
)

// Topic returns the topic name for one category under the prefix.
func Topic(prefix, category string) string {
	return prefix + "." + category
}

// Topics returns every topic the relay can produce to.
func Topics(prefix string) []string {
	categories := models.Categories()
	out := make([]string, len(categories))
	for i, c := range categories {
		out[i] = Topic(prefix, c)
	}
	return out
}

// EnsureTopics creates the relay's topics if they are missing. Topics that
// already exist are not an error.
func EnsureTopics(ctx context.Context, admin *kadm.Client, prefix string, partitions int32, replication int16) error {
	resp, err := admin.CreateTopics(ctx, partitions, replication, nil, Topics(prefix)...)
	if err != nil {
		return fmt.Errorf("create topics: %w", err)
	}
	for _, res := range resp.Sorted() {
		if res.Err != nil && !errors.Is(res.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", res.Topic, res.Err)
		}
	}
	return nil
}
