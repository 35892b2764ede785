package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGlobalTags_ExtractsArrayFromProse(t *testing.T) {
	chat := replying(`Here are the tags: ["Cells", " cells ", "DNA", ""] enjoy`)
	svc := NewIngestionService(nil, nil, chat, "gpt-4o-mini", t.TempDir())

	tags := svc.GlobalTags(context.Background(), "Cells contain DNA.")
	assert.Equal(t, []string{"Cells", "DNA"}, tags)
	assert.Equal(t, "gpt-4o-mini", chat.requests[0].Model)
}

func TestGlobalTags_UnparseableReplyYieldsNoTags(t *testing.T) {
	svc := NewIngestionService(nil, nil, replying("no tags today"), "", t.TempDir())
	assert.Equal(t, []string{}, svc.GlobalTags(context.Background(), "text"))
}
