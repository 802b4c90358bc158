package sources

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"lloydsdigest/internal/core"
)

const validCSV = `source_type,domain,url,topics,page_type
primary,lloyds.com,https://www.lloyds.com/feed,Market; Results,rss
Secondary,insurancetimes.co.uk,https://www.insurancetimes.co.uk/news,"Brokers, Market; Brokers",LISTING
regulatory,fca.org.uk,https://www.fca.org.uk/news/rss.xml,,rss
`

func TestParse(t *testing.T) {
	got, err := Parse(strings.NewReader(validCSV))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 sources, got %d", len(got))
	}
	if got[0].SourceID() != "primary:lloyds.com" || !reflect.DeepEqual(got[0].Topics, []string{"Market", "Results"}) {
		t.Errorf("unexpected first source: %+v", got[0])
	}
	if got[1].SourceType != "secondary" || got[1].PageType != PageTypeListing {
		t.Errorf("types should be lowercased: %+v", got[1])
	}
	if !reflect.DeepEqual(got[1].Topics, []string{"Brokers", "Market"}) {
		t.Errorf("topics = %v", got[1].Topics)
	}
	if got[2].Topics != nil {
		t.Errorf("expected no topics, got %v", got[2].Topics)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantMsg string
	}{
		{"empty", "", "header row"},
		{"missing columns", "source_type,domain,url\n", "missing required columns: page_type, topics"},
		{"missing field", "source_type,domain,url,topics,page_type\nprimary,,https://x.com,,rss\n", "row 2: missing required fields"},
		{"bad source type", "source_type,domain,url,topics,page_type\nblog,x.com,https://x.com,,rss\n", `invalid source_type "blog"`},
		{"bad page type", "source_type,domain,url,topics,page_type\nprimary,x.com,https://x.com,,sitemap\n", `invalid page_type "sitemap"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			if !errors.Is(err, ErrInvalidSources) {
				t.Fatalf("expected ErrInvalidSources, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestParseTopics(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"A", []string{"A"}},
		{"A;B,C", []string{"A", "B", "C"}},
		{" A ; ; A ", []string{"A"}},
	}
	for _, tt := range tests {
		if got := ParseTopics(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseTopics(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

type recordingStore struct {
	upserted []string
	fail     bool
}

func (r *recordingStore) UpsertSource(_ context.Context, src core.Source) error {
	if r.fail {
		return errors.New("db down")
	}
	r.upserted = append(r.upserted, src.SourceID())
	return nil
}

func TestManagerPrepare(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.csv")
	if err := os.WriteFile(path, []byte(validCSV), 0644); err != nil {
		t.Fatal(err)
	}

	store := &recordingStore{}
	got, truncated, err := NewManager(store).Prepare(context.Background(), path, 2)
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if !truncated || len(got) != 2 {
		t.Errorf("expected 2 sources with truncation, got %d (%v)", len(got), truncated)
	}
	if !reflect.DeepEqual(store.upserted, []string{"primary:lloyds.com", "secondary:insurancetimes.co.uk"}) {
		t.Errorf("upserted = %v", store.upserted)
	}

	if _, _, err := NewManager(&recordingStore{fail: true}).Prepare(context.Background(), path, 0); err == nil {
		t.Error("expected store failure to surface")
	}
	if _, _, err := NewManager(nil).Prepare(context.Background(), filepath.Join(t.TempDir(), "missing.csv"), 0); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestLimitAndByPageType(t *testing.T) {
	items, truncated := Limit([]int{1, 2, 3}, 0)
	if truncated || len(items) != 3 {
		t.Error("0 should mean no limit")
	}
	items, truncated = Limit([]int{1, 2, 3}, 3)
	if truncated || len(items) != 3 {
		t.Error("limit equal to length should not truncate")
	}

	all, _ := Parse(strings.NewReader(validCSV))
	if rss := ByPageType(all, PageTypeRSS); len(rss) != 2 {
		t.Errorf("expected 2 rss sources, got %d", len(rss))
	}
}
