package refdata

import "testing"

func TestPaginate(t *testing.T) {
	tests := []struct {
		name        string
		total       int64
		take        int
		page        int
		wantCurrent int
		wantPages   int
		wantOffset  int
	}{
		{
			name:  "clamp past last page",
			total: 95, take: 50, page: 5,
			wantCurrent: 2, wantPages: 2, wantOffset: 50,
		},
		{
			name:  "exact multiple plus one",
			total: 101, take: 50, page: 3,
			wantCurrent: 3, wantPages: 3, wantOffset: 100,
		},
		{
			name:  "empty result set",
			total: 0, take: 50, page: 7,
			wantCurrent: 1, wantPages: 0, wantOffset: 0,
		},
		{
			name:  "page zero clamps up",
			total: 10, take: 50, page: 0,
			wantCurrent: 1, wantPages: 1, wantOffset: 0,
		},
		{
			name:  "negative page clamps up",
			total: 10, take: 50, page: -3,
			wantCurrent: 1, wantPages: 1, wantOffset: 0,
		},
		{
			name:  "first of many",
			total: 250, take: 50, page: 1,
			wantCurrent: 1, wantPages: 5, wantOffset: 0,
		},
		{
			name:  "zero take uses default",
			total: 60, take: 0, page: 2,
			wantCurrent: 2, wantPages: 2, wantOffset: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current, pages, offset := Paginate(tt.total, tt.take, tt.page)
			if current != tt.wantCurrent || pages != tt.wantPages || offset != tt.wantOffset {
				t.Errorf("Paginate(%d, %d, %d) = (%d, %d, %d), want (%d, %d, %d)",
					tt.total, tt.take, tt.page,
					current, pages, offset,
					tt.wantCurrent, tt.wantPages, tt.wantOffset)
			}
		})
	}
}

func TestNewPage(t *testing.T) {
	t.Run("clamped page flags", func(t *testing.T) {
		p := NewPage([]int{1, 2}, 95, 50, 5)
		if p.CurrentPage != 2 {
			t.Errorf("CurrentPage = %d, want 2", p.CurrentPage)
		}
		if p.TotalPages != 2 {
			t.Errorf("TotalPages = %d, want 2", p.TotalPages)
		}
		if p.HasNextPage {
			t.Error("HasNextPage = true, want false")
		}
		if !p.HasPrevPage {
			t.Error("HasPrevPage = false, want true")
		}
	})

	t.Run("middle page", func(t *testing.T) {
		p := NewPage([]int{1}, 150, 50, 2)
		if !p.HasNextPage || !p.HasPrevPage {
			t.Errorf("page 2 of 3: HasNextPage = %v, HasPrevPage = %v, want true, true", p.HasNextPage, p.HasPrevPage)
		}
	})

	t.Run("nil items become empty slice", func(t *testing.T) {
		p := NewPage[int](nil, 0, 50, 1)
		if p.Items == nil {
			t.Error("Items should be an empty slice, not nil")
		}
		if p.HasNextPage || p.HasPrevPage {
			t.Error("empty result should have no next or prev page")
		}
	})
}

func TestFoldDiacritics(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Göteborg", "Goteborg"},
		{"Zürich", "Zurich"},
		{"São Paulo", "Sao Paulo"},
		{"Plain", "Plain"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := FoldDiacritics(tt.input); got != tt.want {
			t.Errorf("FoldDiacritics(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
