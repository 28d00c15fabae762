package cache

import (
	"testing"

	"github.com/hitoshi/coindeck/internal/model"
)

// --- DecodeCursor のテスト ---

func TestDecodeCursor(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"0", 0},
		{"36", 36},
		{"-5", 0},
		{"abc", 0},
		{"1.5", 0},
	}
	for _, c := range cases {
		if got := DecodeCursor(c.in); got != c.want {
			t.Errorf("DecodeCursor(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	if got := DecodeCursor(EncodeCursor(72)); got != 72 {
		t.Errorf("ラウンドトリップ = %d, want 72", got)
	}
}

// --- SlicePage のテスト ---

func makeItems(n int) []model.FeedItem {
	items := make([]model.FeedItem, n)
	for i := range items {
		items[i] = model.FeedItem{ID: EncodeCursor(i)}
	}
	return items
}

func TestSlicePage_FirstPage(t *testing.T) {
	items := makeItems(5)

	page, next, hasNext := SlicePage(items, 0, 2)

	if len(page) != 2 {
		t.Fatalf("件数 = %d, want 2", len(page))
	}
	if page[0].ID != "0" || page[1].ID != "1" {
		t.Errorf("先頭ページの内容が不正: %s, %s", page[0].ID, page[1].ID)
	}
	if next != "2" {
		t.Errorf("nextCursor = %s, want 2", next)
	}
	if !hasNext {
		t.Error("hasNext = false, want true")
	}
}

func TestSlicePage_SecondPageFromCursor(t *testing.T) {
	items := makeItems(5)

	page, next, hasNext := SlicePage(items, DecodeCursor("2"), 2)

	if page[0].ID != "2" || page[1].ID != "3" {
		t.Errorf("2ページ目の内容が不正: %s, %s", page[0].ID, page[1].ID)
	}
	if next != "4" || !hasNext {
		t.Errorf("next = %s hasNext = %v", next, hasNext)
	}
}

func TestSlicePage_LastPageHasNoCursor(t *testing.T) {
	items := makeItems(5)

	page, next, hasNext := SlicePage(items, 4, 2)

	if len(page) != 1 {
		t.Fatalf("件数 = %d, want 1", len(page))
	}
	if next != "" {
		t.Errorf("最終ページのnextCursorは空であるべき: %s", next)
	}
	if hasNext {
		t.Error("最終ページのhasNextはfalseであるべき")
	}
}

func TestSlicePage_OffsetBeyondEnd(t *testing.T) {
	items := makeItems(3)

	page, next, hasNext := SlicePage(items, 100, 10)

	if len(page) != 0 {
		t.Errorf("範囲外オフセットは空ページ: %d件", len(page))
	}
	if next != "" || hasNext {
		t.Errorf("範囲外オフセットでnext=%s hasNext=%v", next, hasNext)
	}
}

func TestSlicePage_ClampsCount(t *testing.T) {
	items := makeItems(300)

	page, _, _ := SlicePage(items, 0, 1000)
	if len(page) != 200 {
		t.Errorf("countは200にクランプされるべき: %d件", len(page))
	}

	page, _, _ = SlicePage(items, 0, 0)
	if len(page) != 1 {
		t.Errorf("count=0は1にクランプされるべき: %d件", len(page))
	}
}
