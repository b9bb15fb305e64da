package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/3B132016/tws/internal/model"
)

// FormatWinRates formats a per-horizon win-rate summary.
func FormatWinRates(title string, summary model.WinRateSummary) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📊 <b>%s</b> | %s\n\n", html.EscapeString(title), time.Now().Format("2006-01-02")))

	if len(summary) == 0 {
		b.WriteString("尚無資料\n")
		return b.String()
	}
	for _, h := range summary.Horizons() {
		hs := summary[h]
		if hs.SampleCount == 0 {
			b.WriteString(fmt.Sprintf("%2d 日: 無樣本\n", h))
			continue
		}
		b.WriteString(fmt.Sprintf("%2d 日: 勝率 %.2f%% (%d/%d) 平均 %+.2f%%\n",
			h, hs.WinRate*100, hs.Wins, hs.SampleCount, *hs.MeanReturn))
	}
	return b.String()
}

// FormatBest formats one security's optimization result.
func FormatBest(res *model.OptimizationResult) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🎯 <b>%s 最佳參數</b>\n\n", html.EscapeString(res.SecurityID)))
	if !res.HasBest() {
		b.WriteString(fmt.Sprintf("無可用組合 (評估 %d 組)\n", res.Evaluated))
		return b.String()
	}
	p := res.BestParams
	b.WriteString(fmt.Sprintf("均線天數: %d\n", p.Window))
	b.WriteString(fmt.Sprintf("倍數: %g\n", p.Multiplier))
	b.WriteString(fmt.Sprintf("買超門檻: %g\n", p.AbsoluteThreshold))
	b.WriteString(fmt.Sprintf("%s: %.4f\n", html.EscapeString(res.Scorer), res.BestScore))
	b.WriteString(fmt.Sprintf("有效組合: %d/%d\n", res.Scored, res.Evaluated))
	if !res.CompletedAt.IsZero() {
		b.WriteString(fmt.Sprintf("更新時間: %s\n", res.CompletedAt.Format("2006-01-02 15:04")))
	}
	return b.String()
}

// ScanDigest is the input of FormatScanReport.
type ScanDigest struct {
	RunID      string
	Securities int
	Skipped    int
	Failed     []string
	Events     int
	Summary    model.WinRateSummary
	Top        []model.OptimizationResult
	Elapsed    time.Duration
}

// FormatScanReport formats the result of a scheduled portfolio scan.
func FormatScanReport(d ScanDigest) string {
	var b strings.Builder
	b.WriteString(FormatWinRates("投信買超掃描", d.Summary))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("股票數: %d (未變動略過 %d)\n", d.Securities, d.Skipped))
	b.WriteString(fmt.Sprintf("訊號數: %d\n", d.Events))
	if len(d.Failed) > 0 {
		b.WriteString(fmt.Sprintf("⚠️ 失敗: %s\n", html.EscapeString(strings.Join(d.Failed, ", "))))
	}
	if len(d.Top) > 0 {
		b.WriteString("\n<b>最佳參數:</b>\n")
		for _, r := range d.Top {
			if !r.HasBest() {
				continue
			}
			b.WriteString(fmt.Sprintf("  %s: %s → %.4f\n",
				html.EscapeString(r.SecurityID), r.BestParams, r.BestScore))
		}
	}
	b.WriteString(fmt.Sprintf("\n耗時 %s\n", d.Elapsed.Round(time.Second)))
	return b.String()
}

// FormatHelp lists the supported commands.
func FormatHelp() string {
	return "可用指令:\n/summary - 最新組合勝率\n/best &lt;代碼&gt; - 個股最佳參數\n/scan - 立即掃描"
}
