// Package csv stores a replica's rows in a single CSV file with a
// "key,value" header. The whole file is rewritten on every change, so it
// suits small datasets and fixtures.
//
// Values are stored as CSV text, so they should be valid UTF-8, and a
// "\r\n" inside a value reads back as "\n". Rows whose bytes must survive
// exactly belong in one of the other stores.
package csv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/gocarina/gocsv"
)

type record struct {
	Key   string `csv:"key"`
	Value string `csv:"value"`
}

// Persist implements the aetree.Persist interface over a CSV file.
type Persist struct {
	path string
	l    sync.Mutex
}

// NewPersistForPath returns a Persist over the CSV file at path. A missing
// file reads as empty and is created by the first Store.
func NewPersistForPath(path string) *Persist {
	return &Persist{path: path}
}

func (p *Persist) read() (map[string]string, error) {
	f, err := os.Open(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var records []record
	if err := gocsv.UnmarshalFile(f, &records); err != nil && !errors.Is(err, gocsv.ErrEmptyCSVFile) {
		return nil, fmt.Errorf("unmarshal %s: %w", p.path, err)
	}
	rows := make(map[string]string, len(records))
	for _, r := range records {
		rows[r.Key] = r.Value
	}
	return rows, nil
}

func (p *Persist) write(rows map[string]string) error {
	records := make([]record, 0, len(rows))
	for k, v := range rows {
		records = append(records, record{k, v})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	f, err := os.OpenFile(p.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := gocsv.MarshalFile(&records, f); err != nil {
		f.Close()
		return fmt.Errorf("marshal %s: %w", p.path, err)
	}
	return f.Close()
}

func (p *Persist) Load(ctx context.Context, name string) ([]byte, error) {
	p.l.Lock()
	defer p.l.Unlock()
	rows, err := p.read()
	if err != nil {
		return nil, err
	}
	v, ok := rows[name]
	if !ok {
		return nil, fmt.Errorf("%s: no row %s", p.path, name)
	}
	return []byte(v), nil
}

func (p *Persist) Store(ctx context.Context, name string, b []byte) error {
	p.l.Lock()
	defer p.l.Unlock()
	rows, err := p.read()
	if err != nil {
		return err
	}
	rows[name] = string(b)
	return p.write(rows)
}

func (p *Persist) Delete(ctx context.Context, name string) error {
	p.l.Lock()
	defer p.l.Unlock()
	rows, err := p.read()
	if err != nil {
		return err
	}
	if _, ok := rows[name]; !ok {
		return nil
	}
	delete(rows, name)
	return p.write(rows)
}

func (p *Persist) List(ctx context.Context, f func(string) error) error {
	p.l.Lock()
	rows, err := p.read()
	p.l.Unlock()
	if err != nil {
		return err
	}
	names := make([]string, 0, len(rows))
	for name := range rows {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := f(name); err != nil {
			return err
		}
	}
	return nil
}
