package sandbox

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// classDefRe matches module-level class definitions only; nested classes are
// never the scanner entry point.
var classDefRe = regexp.MustCompile(`(?m)^class\s+([A-Za-z_]\w*)`)

// detectClass returns the first module-level class defined in the source.
// Generated candidates define exactly one.
func detectClass(source string) (string, bool) {
	m := classDefRe.FindStringSubmatch(source)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// harnessTemplate is appended below the candidate source. It instantiates the
// scanner with the run window, executes it, and prints exactly one JSON result
// object to stdout. Scanner-raised exceptions become a success:false payload;
// the traceback goes to stderr so the payload line stays clean.
const harnessTemplate = `

if __name__ == '__main__':
    import json
    import traceback
    _tickers = %s
    try:
        _kwargs = {'start_date': %s, 'end_date': %s}
        if _tickers:
            _kwargs['tickers'] = _tickers
        _scanner = %s(**_kwargs)
        _results = _scanner.run()
        if hasattr(_results, 'to_dict'):
            _results = _results.to_dict('records')
        _rows = [dict(_row) for _row in (_results or [])]
        print(json.dumps({'success': True, 'results': _rows,
                          'metadata': {'tickers_tested': len(_tickers),
                                       'signals_found': len(_rows)}}, default=str))
    except Exception as _exc:
        traceback.print_exc()
        print(json.dumps({'success': False, 'error': str(_exc)}))
`

// buildHarness renders the __main__ block for the detected scanner class.
func buildHarness(class string, cfg RunConfig) string {
	return fmt.Sprintf(harnessTemplate,
		pythonList(cfg.Tickers),
		strconv.Quote(cfg.StartDate),
		strconv.Quote(cfg.EndDate),
		class)
}

// pythonList renders a slice as a Python list literal. Go quoting is escape
// compatible with Python string literals for symbol and date content.
func pythonList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = strconv.Quote(item)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
