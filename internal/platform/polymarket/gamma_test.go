package polymarket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

func TestLookupMarket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets" {
			http.NotFound(w, r)
			return
		}
		switch r.URL.Query().Get("slug") {
		case "epl-ars-che":
			fmt.Fprint(w, `[{"slug":"epl-ars-che","question":"Arsenal vs Chelsea","active":true,"clobTokenIds":"[\"1\",\"2\"]"}]`)
		case "boom":
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `slow down`)
		default:
			fmt.Fprint(w, `[]`)
		}
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL + "/")
	ctx := context.Background()

	m, err := g.LookupMarket(ctx, "epl-ars-che")
	if err != nil {
		t.Fatalf("LookupMarket: %v", err)
	}
	if m.Question != "Arsenal vs Chelsea" {
		t.Errorf("question = %q", m.Question)
	}

	if _, err := g.LookupMarket(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing slug err = %v, want ErrNotFound", err)
	}
	if _, err := g.LookupMarket(ctx, "boom"); !errors.Is(err, domain.ErrRateLimited) {
		t.Errorf("429 err = %v, want ErrRateLimited", err)
	}
}

func TestSlugsWithPrefix(t *testing.T) {
	var pages atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages.Add(1)
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		if r.URL.Query().Get("closed") != "false" {
			t.Errorf("expected closed=false filter")
		}
		if offset == 0 {
			// A full page forces a second request.
			w.Write([]byte("["))
			for i := 0; i < gammaPageSize; i++ {
				if i > 0 {
					w.Write([]byte(","))
				}
				slug := fmt.Sprintf("nba-game-%d", i)
				if i%2 == 1 {
					slug = fmt.Sprintf("politics-%d", i)
				}
				fmt.Fprintf(w, `{"slug":%q,"active":true}`, slug)
			}
			w.Write([]byte("]"))
			return
		}
		fmt.Fprint(w, `[{"slug":"epl-x","active":true},{"slug":"epl-closed","active":true,"closed":true},{"slug":"eplx-y","active":true}]`)
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL)
	slugs, err := g.SlugsWithPrefix(context.Background(), []string{"nba", "epl"}, 0)
	if err != nil {
		t.Fatalf("SlugsWithPrefix: %v", err)
	}
	if n := pages.Load(); n != 2 {
		t.Errorf("pages = %d, want 2", n)
	}
	if len(slugs) != gammaPageSize/2+1 {
		t.Fatalf("got %d slugs, want %d", len(slugs), gammaPageSize/2+1)
	}
	if slugs[len(slugs)-1] != "epl-x" {
		t.Errorf("last slug = %s, want epl-x", slugs[len(slugs)-1])
	}

	none, err := g.SlugsWithPrefix(context.Background(), nil, 0)
	if err != nil || none != nil {
		t.Errorf("no prefixes = %v, %v", none, err)
	}
}
