package commands

import (
	"context"
	"fmt"
	"os"
	"regexp"

	"github.com/rolloutd/rolloutd/pkg/httpclient"
	"github.com/rolloutd/rolloutd/pkg/stepdoc"
)

// runStepHelp renders the documentation header of every step matching any
// pattern in stepHelp and exits. It bypasses the lock, the config model,
// and the queue entirely — it is a read-only documentation dump, so it
// never contends with a concurrently running agent.
func runStepHelp(ctx context.Context, client *httpclient.Client, patterns []string) error {
	entries, err := client.Index(ctx, "/steps/")
	if err != nil {
		return err
	}

	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(`^\d*-?` + regexp.QuoteMeta(p) + `$`)
		if err != nil {
			return fmt.Errorf("invalid --step_help pattern %q: %w", p, err)
		}
		res = append(res, re)
	}

	found := false
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		if !matchesAnyRE(res, e.Name) {
			continue
		}
		found = true
		source, err := client.Fetch(ctx, "/steps/"+e.Name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", e.Name, err)
			continue
		}
		doc := stepdoc.Parse(string(source))
		fmt.Println(stepdoc.Render(e.Name, doc))
	}
	if !found {
		return fmt.Errorf("no step matches %v", patterns)
	}
	return nil
}

func matchesAnyRE(res []*regexp.Regexp, name string) bool {
	for _, re := range res {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}
