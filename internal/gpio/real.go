//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// Consumer is the label the daemon attaches to requested lines.
const Consumer = "fermentation-pi"

// RealBackend acquires lines from the Linux GPIO character device.
type RealBackend struct {
	chip *gpiocdev.Chip
}

// NewRealBackend opens the named GPIO chip (normally "gpiochip0" on a Pi).
func NewRealBackend(chipName string) (*RealBackend, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer(Consumer))
	if err != nil {
		return nil, fmt.Errorf("%w: open gpio chip %s: %w", ErrPinUnavailable, chipName, err)
	}
	return &RealBackend{chip: chip}, nil
}

// Open requests the line as input with pull-down to match Pi boot defaults.
// Callers switch it to output on first use.
func (b *RealBackend) Open(number int) (Pin, error) {
	line, err := b.chip.RequestLine(number, gpiocdev.AsInput, gpiocdev.WithPullDown)
	if err != nil {
		return nil, fmt.Errorf("request line %d: %w", number, err)
	}
	return &realPin{line: line, number: number}, nil
}

// Close releases the chip.
func (b *RealBackend) Close() error {
	return b.chip.Close()
}

type realPin struct {
	line   *gpiocdev.Line
	number int
	output bool
}

func (p *realPin) Output(level int) error {
	if p.output {
		if err := p.line.SetValue(level); err != nil {
			return fmt.Errorf("%w: set pin %d: %w", ErrPinUnavailable, p.number, err)
		}
		return nil
	}
	if err := p.line.Reconfigure(gpiocdev.AsOutput(level)); err != nil {
		return fmt.Errorf("%w: pin %d to output: %w", ErrPinUnavailable, p.number, err)
	}
	p.output = true
	return nil
}

func (p *realPin) Input() error {
	if err := p.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullUp); err != nil {
		return fmt.Errorf("%w: pin %d to input: %w", ErrPinUnavailable, p.number, err)
	}
	p.output = false
	return nil
}

func (p *realPin) Value() (int, error) {
	v, err := p.line.Value()
	if err != nil {
		return Low, fmt.Errorf("%w: read pin %d: %w", ErrPinUnavailable, p.number, err)
	}
	return v, nil
}

// Close reconfigures the line to input with pull-down before releasing it, so
// relays drop out and the pin is left the way the Pi boots.
func (p *realPin) Close() error {
	var errs []error
	if err := p.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", p.number, err))
	}
	if err := p.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pin %d: %w", p.number, err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
