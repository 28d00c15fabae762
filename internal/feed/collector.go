package feed

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/coindeck/internal/model"
	"github.com/hitoshi/coindeck/internal/upstream"
)

const (
	// minRounds はラウンド上限の下限値。
	minRounds = 30
	// roundSafetyFactor は目標件数から導出するラウンド上限の安全係数。
	roundSafetyFactor = 8
)

// PageFetcher はプロフィールのコインページ取得のインターフェース。
type PageFetcher interface {
	FetchPage(ctx context.Context, identifier string, count int, after string) (*upstream.Page, error)
}

// ProgressSink は収集の進捗通知を受け取るインターフェース。
// 長時間のバッチビルドの可観測性のために使用する。正確性には寄与しない。
type ProgressSink interface {
	// ReportRound はラウンド開始時に呼ばれる。
	ReportRound(round int, collected int, active int)
	// ReportChunk はチャンクの結果処理が完了するたびに呼ばれる。
	ReportChunk(round int, collected int, active int)
	// ReportProfileError はプロフィールのページ取得失敗時に呼ばれる。
	ReportProfileError(identifier string, consecutiveFailures int)
	// ReportDone は収集完了時に呼ばれる。
	ReportDone(collected int)
}

// MaxRounds は目標件数とページサイズから収集のラウンド上限を導出する。
// target=0の場合は下限値をそのまま返す。
func MaxRounds(target, pageSize int) int {
	pageSize = clampInt(pageSize, 1, 50)
	rounds := minRounds
	if target > 0 {
		derived := (target + pageSize - 1) / pageSize * roundSafetyFactor
		if derived > rounds {
			rounds = derived
		}
	}
	return rounds
}

// ProfileState は1プロフィールのページング状態を表す。
// 収集実行のスコープ内でのみ生存し、永続化されない。
type ProfileState struct {
	After         string // アップストリームのページングカーソル
	HasNext       bool   // アップストリームが次ページありと報告したか
	Stopped       bool   // このプロフィールの収集を終了したか
	ReachedCutoff bool   // カットオフ到達により停止したか
	Failures      int    // 連続失敗回数（成功でリセット）
}

// CollectParams は収集実行のパラメータ。
type CollectParams struct {
	// Profiles は収集対象のプロフィール識別子リスト。
	Profiles []string
	// Target はユニークアイテム数の目標。0の場合は件数による終了判定を行わない。
	Target int
	// Cutoff はunixミリ秒のカットオフ。0より大きい場合、createdAtがこの値
	// 以前のアイテムに到達した時点でそのプロフィールの収集を停止する。
	Cutoff int64
	// PageSize は1ページあたりの取得件数（1-50にクランプ）。
	PageSize int
	// Concurrency は同時フェッチ数の上限（1-6にクランプ）。
	Concurrency int
	// MaxFailures は連続失敗の許容回数。この回数に達したプロフィールは停止する。
	// 0以下の場合は1（初回失敗で停止）として扱う。
	MaxFailures int
	// KnownIDs は既知アイテムのIDセット。含まれるIDはメディア解決を行わずにスキップする。
	KnownIDs map[string]struct{}
	// Sink は進捗通知先。nilの場合は通知しない。
	Sink ProgressSink
}

// Collector は複数プロフィールのページング状態機械を並行に駆動し、
// アイテムをアキュムレータへマージする。
// チャンクは厳密に逐次処理され、チャンク内のフェッチのみが並行実行される。
type Collector struct {
	fetcher PageFetcher
	mapper  *Mapper
	logger  *slog.Logger
}

// NewCollector はCollector の新しいインスタンスを生成する。
func NewCollector(fetcher PageFetcher, mapper *Mapper, logger *slog.Logger) *Collector {
	return &Collector{
		fetcher: fetcher,
		mapper:  mapper,
		logger:  logger,
	}
}

// fetchOutcome は1プロフィール分のページフェッチ結果。
type fetchOutcome struct {
	identifier string
	page       *upstream.Page
	err        error
}

// Collect はラウンドループで全プロフィールのページを収集する。
// 戻り値のアイテムはID重複排除済み・createdAt降順ソート済み。
// 終了条件: 全プロフィール停止、目標件数到達（Target>0時）、ラウンド上限到達。
// コンテキストのキャンセル時のみエラーを返す。個別プロフィールの失敗は
// そのプロフィールの停止として扱い、収集全体は継続する。
func (c *Collector) Collect(ctx context.Context, p CollectParams) ([]model.FeedItem, map[string]*ProfileState, error) {
	pageSize := clampInt(p.PageSize, 1, 50)
	concurrency := clampInt(p.Concurrency, 1, 6)
	maxFailures := p.MaxFailures
	if maxFailures < 1 {
		maxFailures = 1
	}

	maxRounds := MaxRounds(p.Target, pageSize)

	states := make(map[string]*ProfileState, len(p.Profiles))
	for _, identifier := range p.Profiles {
		states[identifier] = &ProfileState{HasNext: true}
	}

	seen := make(map[string]struct{}, len(p.KnownIDs))
	for id := range p.KnownIDs {
		seen[id] = struct{}{}
	}

	var accum []model.FeedItem

	for round := 1; round <= maxRounds; round++ {
		active := activeProfiles(p.Profiles, states)
		if len(active) == 0 {
			break
		}
		if p.Target > 0 && len(accum) >= p.Target {
			break
		}
		if p.Sink != nil {
			p.Sink.ReportRound(round, len(accum), len(active))
		}

		// アクティブなプロフィールをチャンクに分割し、チャンク単位で並行フェッチする。
		// 次のチャンクは前のチャンクの結果処理が終わるまで開始しない。
		for start := 0; start < len(active); start += concurrency {
			end := start + concurrency
			if end > len(active) {
				end = len(active)
			}
			chunk := active[start:end]

			outcomes := make([]fetchOutcome, len(chunk))
			var wg sync.WaitGroup
			for i, identifier := range chunk {
				wg.Add(1)
				go func(i int, identifier string) {
					defer wg.Done()
					st := states[identifier]
					page, err := c.fetcher.FetchPage(ctx, identifier, pageSize, st.After)
					outcomes[i] = fetchOutcome{identifier: identifier, page: page, err: err}
				}(i, identifier)
			}
			wg.Wait()

			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}

			for _, outcome := range outcomes {
				accum = c.consumePage(ctx, outcome, states[outcome.identifier], &p, maxFailures, seen, accum)
			}
			if p.Sink != nil {
				p.Sink.ReportChunk(round, len(accum), len(activeProfiles(p.Profiles, states)))
			}

			if p.Target > 0 && len(accum) >= p.Target {
				break
			}
		}
	}

	items := model.NormalizeItems(accum)
	if p.Sink != nil {
		p.Sink.ReportDone(len(items))
	}
	return items, states, nil
}

// consumePage は1ページ分のフェッチ結果を状態機械とアキュムレータに反映する。
// カットオフ到達時はページ途中でも残りを捨ててプロフィールを停止する。
// 既知IDのアイテムはメディア解決を行わずにスキップする（無駄なフェッチ防止）。
func (c *Collector) consumePage(ctx context.Context, outcome fetchOutcome, st *ProfileState, p *CollectParams, maxFailures int, seen map[string]struct{}, accum []model.FeedItem) []model.FeedItem {
	if outcome.err != nil {
		st.Failures++
		c.logger.Warn("プロフィールのページ取得に失敗しました",
			slog.String("identifier", outcome.identifier),
			slog.Int("consecutive_failures", st.Failures),
			slog.String("error", outcome.err.Error()),
		)
		if st.Failures >= maxFailures {
			st.Stopped = true
		}
		if p.Sink != nil {
			p.Sink.ReportProfileError(outcome.identifier, st.Failures)
		}
		return accum
	}
	st.Failures = 0

	page := outcome.page
	for _, coin := range page.Coins {
		// カットオフ以前のアイテムに到達したら、このページの残りは全て
		// それ以前のアイテムなので捨てて停止する（ページ内はcreatedAt降順）。
		if p.Cutoff > 0 && model.ParseCreatedAt(coin.CreatedAt) <= p.Cutoff {
			st.Stopped = true
			st.ReachedCutoff = true
			break
		}
		if coin.ID == "" {
			continue
		}
		if _, ok := seen[coin.ID]; ok {
			continue
		}
		seen[coin.ID] = struct{}{}
		accum = append(accum, c.mapper.MapCoin(ctx, coin, page.Profile))
	}

	st.After = page.EndCursor
	st.HasNext = page.HasNextPage
	if !st.HasNext {
		st.Stopped = true
	}
	return accum
}

// activeProfiles は停止していないプロフィールを入力順で返す。
func activeProfiles(profiles []string, states map[string]*ProfileState) []string {
	active := make([]string, 0, len(profiles))
	for _, identifier := range profiles {
		if !states[identifier].Stopped {
			active = append(active, identifier)
		}
	}
	return active
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
