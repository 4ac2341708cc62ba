package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/loykin/svcmon"
	"github.com/loykin/svcmon/pkg/client"
)

// row is one line of the status table, shared by local and remote output.
type row struct {
	DisplayName string
	Service     string
	Status      string
	Since       time.Time
}

func rowsFromUpdate(u svcmon.Update) []row {
	hs := u.Handles()
	out := make([]row, 0, len(hs))
	for _, h := range hs {
		out = append(out, row{DisplayName: h.DisplayName, Service: h.Service, Status: string(h.Status), Since: h.Since})
	}
	return out
}

func rowsFromResponse(r client.ServicesResponse) []row {
	out := make([]row, 0, len(r.Services))
	for _, s := range r.Services {
		out = append(out, row(s))
	}
	return out
}

func printRows(w io.Writer, rows []row, configErr string) {
	if configErr != "" {
		_, _ = fmt.Fprintf(w, "notice: %s\n", configErr)
	}
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(w, "no services tracked")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "DISPLAY NAME\tSERVICE\tSTATUS\tSINCE")
	for _, r := range rows {
		since := "-"
		if !r.Since.IsZero() {
			since = r.Since.Local().Format(time.DateTime)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.DisplayName, r.Service, r.Status, since)
	}
	_ = tw.Flush()
}

func printToggle(w io.Writer, name, action, before, after, errMsg string) {
	if errMsg != "" {
		_, _ = fmt.Fprintf(w, "%s: %s failed: %s (status %s)\n", name, action, errMsg, after)
		return
	}
	_, _ = fmt.Fprintf(w, "%s: %s -> %s (%s)\n", name, before, after, action)
}

func printBulk(w io.Writer, action string, items []client.BulkItem, succeeded int) {
	for _, it := range items {
		if !it.OK {
			_, _ = fmt.Fprintf(w, "  %s: %s\n", it.Name, it.Error)
		}
	}
	_, _ = fmt.Fprintf(w, "%s: %d/%d succeeded\n", action, succeeded, len(items))
}

// bulkItems converts a local bulk result into the wire form used for output.
func bulkItems(res svcmon.BulkResult) []client.BulkItem {
	out := make([]client.BulkItem, 0, len(res.Items))
	for _, it := range res.Items {
		out = append(out, client.BulkItem{Name: it.Name, OK: it.Err == nil, Error: it.ErrorMessage()})
	}
	return out
}

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}
