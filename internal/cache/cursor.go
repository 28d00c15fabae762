package cache

import (
	"strconv"

	"github.com/hitoshi/coindeck/internal/model"
)

// maxPageSize はオフセットページングの1ページあたり最大件数。
const maxPageSize = 200

// EncodeCursor はオフセットを不透明カーソル文字列にエンコードする。
func EncodeCursor(offset int) string {
	return strconv.Itoa(offset)
}

// DecodeCursor は不透明カーソルをオフセットにデコードする。
// 空文字列・パース不能・負数はすべて0として扱う。
func DecodeCursor(cursor string) int {
	if cursor == "" {
		return 0
	}
	offset, err := strconv.Atoi(cursor)
	if err != nil || offset < 0 {
		return 0
	}
	return offset
}

// SlicePage はソート済みアイテム列から [offset, offset+count) の1ページを切り出す。
// countは1-200にクランプされる。次ページが存在する場合のみnextCursorを返す。
func SlicePage(items []model.FeedItem, offset, count int) (page []model.FeedItem, nextCursor string, hasNext bool) {
	if count < 1 {
		count = 1
	}
	if count > maxPageSize {
		count = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	if offset >= len(items) {
		return []model.FeedItem{}, "", false
	}

	end := offset + count
	if end > len(items) {
		end = len(items)
	}

	page = items[offset:end]
	hasNext = end < len(items)
	if hasNext {
		nextCursor = EncodeCursor(end)
	}
	return page, nextCursor, hasNext
}
