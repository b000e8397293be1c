// File: internal/recorder/recorder.go
package recorder

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"candlecast/internal/candle"
)

var header = []string{"time", "x", "o", "h", "l", "c", "v"}

// Writer appends candles to a CSV file, one row per candle.
type Writer struct {
	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

// Open appends to path, writing a header if the file is new or empty.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	w := &Writer{f: f, w: csv.NewWriter(f)}
	if st.Size() == 0 {
		if err := w.w.Write(header); err != nil {
			f.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
		w.w.Flush()
	}
	return w, nil
}

func (w *Writer) Write(cs ...candle.Candle) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, c := range cs {
		row := []string{
			time.UnixMilli(c.X).UTC().Format(time.RFC3339),
			strconv.FormatInt(c.X, 10),
			fmt.Sprintf("%.2f", c.O),
			fmt.Sprintf("%.2f", c.H),
			fmt.Sprintf("%.2f", c.L),
			fmt.Sprintf("%.2f", c.C),
			strconv.FormatInt(c.V, 10),
		}
		if err := w.w.Write(row); err != nil {
			return err
		}
	}
	w.w.Flush()
	return w.w.Error()
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.w.Flush()
	return w.f.Close()
}
