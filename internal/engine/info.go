package engine

import "strconv"

// parseInfo extracts the known keys from an "info" line's fields (spec
// §4.5 "Info frames"): depth, seldepth, time, nodes, nps, multipv,
// "score cp N"/"score mate N", and a trailing "pv m1 m2 ...".
func parseInfo(fields []string) InfoFrame {
	var f InfoFrame
	for i := 0; i < len(fields); i++ {
		switch fields[i] {
		case "depth":
			i++
			f.Depth = atoiOr(fields, i, 0)
		case "seldepth":
			i++
			f.SelDepth = atoiOr(fields, i, 0)
		case "time":
			i++
			f.TimeMs = int64(atoiOr(fields, i, 0))
		case "nodes":
			i++
			f.Nodes = int64(atoiOr(fields, i, 0))
		case "nps":
			i++
			f.NPS = int64(atoiOr(fields, i, 0))
		case "multipv":
			i++
			f.MultiPV = atoiOr(fields, i, 0)
		case "score":
			if i+2 < len(fields) {
				switch fields[i+1] {
				case "cp":
					v := atoiOr(fields, i+2, 0)
					f.ScoreCP = &v
				case "mate":
					v := atoiOr(fields, i+2, 0)
					f.ScoreMate = &v
				}
			}
			i += 2
		case "pv":
			f.PV = append([]string(nil), fields[i+1:]...)
			i = len(fields)
		}
	}
	return f
}

func atoiOr(fields []string, i, fallback int) int {
	if i < 0 || i >= len(fields) {
		return fallback
	}
	v, err := strconv.Atoi(fields[i])
	if err != nil {
		return fallback
	}
	return v
}
