package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/strandlabs/strand/internal/tools"
)

type countArgs struct {
	Count        int     `json:"count,omitempty" jsonschema:"default=10,description=The number to count to. Defaults to 10."`
	DelaySeconds float64 `json:"delay_seconds,omitempty" jsonschema:"default=1,description=Seconds between each number. Defaults to 1."`
}

// NewCountSlowly returns the count_slowly tool. It streams one delta per
// number, which makes it the simplest way to watch incremental tool
// results flow through the whole pipeline.
func NewCountSlowly() tools.Definition {
	return tools.Definition{
		Name:        "count_slowly",
		Description: "Count from 1 to a number slowly, with a delay between each number. Useful for demonstrating streaming tool results.",
		Parameters:  mustSchema(&countArgs{}),
		Kind:        tools.KindLocal,
		Local: &tools.LocalTool{Handler: tools.Handler{
			Stream: func(ctx context.Context, args map[string]any) (<-chan string, error) {
				count := int(floatArg(args, "count", 10))
				delay := time.Duration(floatArg(args, "delay_seconds", 1) * float64(time.Second))

				out := make(chan string)
				go func() {
					defer close(out)
					for i := 1; i <= count; i++ {
						select {
						case <-time.After(delay):
						case <-ctx.Done():
							return
						}
						select {
						case out <- fmt.Sprintf("%d... ", i):
						case <-ctx.Done():
							return
						}
					}
					select {
					case out <- "Done!":
					case <-ctx.Done():
					}
				}()
				return out, nil
			},
		}},
	}
}
