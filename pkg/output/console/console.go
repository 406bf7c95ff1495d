package console

import (
	"fmt"
	"time"

	"github.com/ericogr/hx711-scale/pkg/output"
	"github.com/ericogr/hx711-scale/pkg/sensor"
)

type ConsoleOutput struct {
	caffeine bool
}

// NewConsole prints one line per reading; with caffeine set the estimate is
// appended.
func NewConsole(caffeine bool) output.Output { return &ConsoleOutput{caffeine: caffeine} }

func (c *ConsoleOutput) Publish(r sensor.Reading) error {
	line := fmt.Sprintf("%s raw=%.2f weight=%.2fg", r.Timestamp.Format(time.RFC3339), r.Raw, r.Value)
	if c.caffeine {
		line += fmt.Sprintf(" caffeine=%.2fmg", r.CaffeineMg)
	}
	_, err := fmt.Println(line)
	return err
}

func (c *ConsoleOutput) Close() error { return nil }
