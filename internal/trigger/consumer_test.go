package trigger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/brownbaglunch/webhook/internal/rebuild"
)

type countingScheduler struct {
	sources []string
}

func (c *countingScheduler) Trigger(_ context.Context, source string) rebuild.Ack {
	c.sources = append(c.sources, source)
	return rebuild.Ack{Outcome: rebuild.OutcomeStarted, RunID: "run-1"}
}

func TestHandleMessage(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int
	}{
		{"json body", `{"requested_by":"ci","reason":"data fix"}`, 1},
		{"empty body", ``, 1},
		{"malformed body", `{not json`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &countingScheduler{}
			err := HandleMessage(s)(context.Background(), []byte("bblfr"), []byte(tt.value))
			assert.NoError(t, err)
			assert.Len(t, s.sources, tt.want)
			for _, src := range s.sources {
				assert.Equal(t, rebuild.SourceKafka, src)
			}
		})
	}
}
