package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/ghalamif/AegisArchive/internal/adapters/httpapi"
)

func statusCommand(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	base := fs.String("url", "http://localhost:9100", "Base URL of the engine HTTP API")
	timeout := fs.Duration("timeout", 5*time.Second, "Request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	channels, err := fetchChannels(ctx, strings.TrimRight(*base, "/")+"/channels")
	if err != nil {
		return err
	}
	return renderStatus(os.Stdout, channels, colorEnabled(os.Stdout))
}

func fetchChannels(ctx context.Context, url string) ([]httpapi.ChannelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var out []httpapi.ChannelInfo
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode channels: %w", err)
	}
	return out, nil
}

func renderStatus(w io.Writer, channels []httpapi.ChannelInfo, useColor bool) error {
	ok := color.New(color.FgGreen)
	bad := color.New(color.FgRed)
	idle := color.New(color.FgYellow)
	for _, c := range []*color.Color{ok, bad, idle} {
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tSTATE\tRECEIVED\tBUFFERED\tDROPPED\tCURRENT\tARCHIVED\tGROUPS")
	for _, ch := range channels {
		state := idle
		switch {
		case ch.Connected:
			state = ok
		case ch.State == "disconnected":
			state = bad
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
			ch.Name,
			state.Sprint(ch.State),
			ch.Received,
			ch.Buffered,
			ch.Dropped,
			ch.Current,
			ch.LastArchived,
			strings.Join(ch.Groups, ","),
		)
	}
	return tw.Flush()
}
