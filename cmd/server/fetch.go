package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"go-proxy-rotator/internal/executor"
)

var (
	flagMethod      string
	flagData        string
	flagContentType string
	flagSelector    string
)

func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch URL",
		Short: "Fetch a URL through the proxy pool",
		Long: `Fetch a URL through the proxy pool with rotation, backoff and a direct
fallback. The body is written to stdout; with --selector only the text of the
matching elements is printed, one per line.`,
		Args: cobra.ExactArgs(1),
		RunE: runFetch,
	}

	cmd.Flags().StringVar(&flagMethod, "method", http.MethodGet, "HTTP method")
	cmd.Flags().StringVar(&flagData, "data", "", "Request body")
	cmd.Flags().StringVar(&flagContentType, "content-type", "", "Content-Type of the request body")
	cmd.Flags().StringVar(&flagSelector, "selector", "", "CSS selector to extract from an HTML response")

	return cmd
}

func runFetch(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	header := http.Header{}
	if flagContentType != "" {
		header.Set("Content-Type", flagContentType)
	}
	var body []byte
	if flagData != "" {
		body = []byte(flagData)
	}

	resp, err := a.exec.Do(cmd.Context(), &executor.Request{
		Method: flagMethod,
		URL:    args[0],
		Header: header,
		Body:   body,
	})
	if err != nil {
		return err
	}

	log.Info().
		Int("status", resp.StatusCode).
		Str("endpoint", resp.Endpoint).
		Int("attempts", resp.Attempts).
		Int("rotations", resp.Rotations).
		Msg("Fetched")

	if flagSelector == "" {
		_, err := cmd.OutOrStdout().Write(resp.Body)
		return err
	}
	return writeSelection(cmd.OutOrStdout(), resp.Body, flagSelector)
}

// writeSelection prints the trimmed text of every element matching selector.
func writeSelection(w io.Writer, html []byte, selector string) error {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return fmt.Errorf("parsing HTML: %w", err)
	}

	sel := doc.Find(selector)
	if sel.Length() == 0 {
		return fmt.Errorf("no elements match selector %q", selector)
	}

	var writeErr error
	sel.Each(func(_ int, s *goquery.Selection) {
		if writeErr != nil {
			return
		}
		text := strings.Join(strings.Fields(s.Text()), " ")
		_, writeErr = fmt.Fprintln(w, text)
	})
	return writeErr
}
