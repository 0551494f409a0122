package fanout

import (
	"strings"

	"github.com/clusterctl/core/internal/clustererr"
	"vitess.io/vitess/go/vt/sqlparser"
)

// CheckSingleStatement rejects anything but exactly one SQL statement: the
// executor sends one statement per target and has no notion of a
// multi-statement batch (§4.2.3).
func CheckSingleStatement(sql string) error {
	pieces, err := sqlparser.SplitStatementToPieces(sql)
	if err != nil {
		return clustererr.Wrap(clustererr.KindParser, "", err, "parsing statement")
	}

	nonEmpty := 0
	for _, p := range pieces {
		if strings.TrimSpace(p) != "" {
			nonEmpty++
		}
	}
	switch {
	case nonEmpty == 0:
		return clustererr.Argument("statement must not be empty")
	case nonEmpty > 1:
		return clustererr.Argument("only a single SQL statement may be executed per target")
	default:
		return nil
	}
}
