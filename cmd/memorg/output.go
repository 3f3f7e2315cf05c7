// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/memorg-dev/memorg/internal/store"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

func jsonOutput(cmd *cobra.Command) bool {
	on, _ := cmd.Flags().GetBool("json")
	return on
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// table writes rows under header with tab-separated columns.
func table(w io.Writer, header string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, header)
	for _, r := range rows {
		_, _ = fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	return tw.Flush()
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// snippet shortens s to n runes on one line.
func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// parseScope reads "all", "session:<id>", "conversation:<id>" or
// "topic:<id>".
func parseScope(raw string) (store.Scope, error) {
	if raw == "" || raw == string(store.ScopeAll) {
		return store.All(), nil
	}
	level, id, ok := strings.Cut(raw, ":")
	if !ok || id == "" {
		return store.Scope{}, memerr.Errorf(memerr.CodeCLIInputInvalid,
			"scope %q must be all or <session|conversation|topic>:<id>", raw)
	}
	switch store.ScopeLevel(level) {
	case store.ScopeSession:
		return store.InSession(id), nil
	case store.ScopeConversation:
		return store.InConversation(id), nil
	case store.ScopeTopic:
		return store.InTopic(id), nil
	default:
		return store.Scope{}, memerr.Errorf(memerr.CodeCLIInputInvalid, "unknown scope level %q", level)
	}
}

// parseRef reads "<kind>:<id>".
func parseRef(raw string) (store.EntityRef, error) {
	kind, id, ok := strings.Cut(raw, ":")
	if !ok || id == "" {
		return store.EntityRef{}, memerr.Errorf(memerr.CodeCLIInputInvalid, "reference %q must be <kind>:<id>", raw)
	}
	switch k := store.Kind(kind); k {
	case store.KindConversation, store.KindTopic, store.KindExchange, store.KindSummary:
		return store.EntityRef{ID: id, Kind: k}, nil
	default:
		return store.EntityRef{}, memerr.Errorf(memerr.CodeCLIInputInvalid, "unknown entity kind %q", kind)
	}
}
