// Package gpio drives GPIO lines of a Linux single-board computer through
// the sysfs interface
package gpio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/multierr"

	"millstep/core"
)

// DefaultSysfsRoot is where the kernel exposes the GPIO class
const DefaultSysfsRoot = "/sys/class/gpio"

// Sysfs is a core.GPIODriver on top of /sys/class/gpio
type Sysfs struct {
	root string

	mu       sync.Mutex
	values   map[core.GPIOPin]*os.File
	exported []core.GPIOPin // pins this driver exported and must unexport
}

// NewSysfs creates a driver rooted at root (DefaultSysfsRoot when empty)
func NewSysfs(root string) *Sysfs {
	if root == "" {
		root = DefaultSysfsRoot
	}
	return &Sysfs{
		root:   root,
		values: make(map[core.GPIOPin]*os.File),
	}
}

func (s *Sysfs) pinDir(pin core.GPIOPin) string {
	return filepath.Join(s.root, "gpio"+strconv.Itoa(int(pin)))
}

// ConfigureOutput exports the pin if needed and makes it an output
func (s *Sysfs) ConfigureOutput(pin core.GPIOPin) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.values[pin]; ok {
		return fmt.Errorf("gpio %d already configured", pin)
	}

	dir := s.pinDir(pin)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		if err := writeFile(filepath.Join(s.root, "export"), strconv.Itoa(int(pin))); err != nil {
			return fmt.Errorf("export gpio %d: %w", pin, err)
		}
		s.exported = append(s.exported, pin)
	}

	if err := writeFile(filepath.Join(dir, "direction"), "out"); err != nil {
		return fmt.Errorf("gpio %d direction: %w", pin, err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "value"), os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("gpio %d value: %w", pin, err)
	}
	s.values[pin] = f
	return nil
}

var levels = map[bool][]byte{false: []byte("0"), true: []byte("1")}

// SetPin drives a configured output
func (s *Sysfs) SetPin(pin core.GPIOPin, value bool) error {
	s.mu.Lock()
	f, ok := s.values[pin]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("gpio %d not configured as output", pin)
	}
	if _, err := f.WriteAt(levels[value], 0); err != nil {
		return fmt.Errorf("gpio %d: %w", pin, err)
	}
	return nil
}

// Close releases every pin, unexporting those this driver exported
func (s *Sysfs) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	for pin, f := range s.values {
		err = multierr.Append(err, f.Close())
		delete(s.values, pin)
	}
	for _, pin := range s.exported {
		err = multierr.Append(err, writeFile(filepath.Join(s.root, "unexport"), strconv.Itoa(int(pin))))
	}
	s.exported = nil
	return err
}

func writeFile(path, content string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(content)
	return multierr.Append(werr, f.Close())
}
