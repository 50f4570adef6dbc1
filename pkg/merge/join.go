package merge

import (
	"context"
	"strings"
)

// Join awaits parts in order and concatenates them. sep is written before
// a part only when something has been accumulated already, so a leading
// empty part never produces a leading separator and no parts yield "".
func Join(ctx context.Context, parts []*Result, sep string) (string, error) {
	var b strings.Builder
	for _, p := range parts {
		s, err := p.Await(ctx)
		if err != nil {
			return "", err
		}
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(s)
	}
	return b.String(), nil
}
