package engine

import "fmt"

// Analyze runs a single search on fen and blocks for the resulting
// bestmove, sending one search limit from opts: Infinite if set, else
// MoveTimeMs if positive, else Depth if positive (spec §4.5
// "analyze(fen, opts)"). Every OnInfo call fired from the reader goroutine
// while this search is in flight carries the same bestmove correlation, so
// AnalyzeResult.LastInfo only reflects the value as of the bestmove line.
func (e *Engine) Analyze(fen string, opts AnalyzeOptions) (AnalyzeResult, error) {
	if err := e.SetPosition(fen, nil); err != nil {
		return AnalyzeResult{}, err
	}

	cmd := "go"
	switch {
	case opts.Infinite:
		cmd += " infinite"
	case opts.MoveTimeMs > 0:
		cmd += fmt.Sprintf(" movetime %d", opts.MoveTimeMs)
	case opts.Depth > 0:
		cmd += fmt.Sprintf(" depth %d", opts.Depth)
	}

	timeout := e.opts.AnalyzeSafety
	fields, err := e.sendCorrelated(cmd+"\n", "bestmove", timeout)
	if err != nil {
		return AnalyzeResult{}, err
	}
	res := parseBestmove(fields)
	res.LastInfo = e.LastInfo()
	return res, nil
}

// Stop requests the in-flight go terminate cooperatively; the analyzer
// replies with its bestmove at its next opportunity (spec §5
// "Cancellation").
func (e *Engine) Stop() (AnalyzeResult, error) {
	fields, err := e.sendCorrelated("stop\n", "bestmove", e.opts.RequestTimeout)
	if err != nil {
		return AnalyzeResult{}, err
	}
	res := parseBestmove(fields)
	res.LastInfo = e.LastInfo()
	return res, nil
}

func parseBestmove(fields []string) AnalyzeResult {
	var res AnalyzeResult
	for i := 0; i < len(fields); i++ {
		switch fields[i] {
		case "bestmove":
			if i+1 < len(fields) {
				res.BestMove = fields[i+1]
			}
			i++
		case "ponder":
			if i+1 < len(fields) {
				res.Ponder = fields[i+1]
			}
			i++
		}
	}
	return res
}
