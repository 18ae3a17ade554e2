package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var handoffCmd = &cobra.Command{
	Use:   "handoff",
	Short: "Write and read session handoffs",
}

var handoffWriteCmd = &cobra.Command{
	Use:   "write",
	Short: "Write a handoff document for the current session",
	RunE:  runHandoffWrite,
}

var handoffReadCmd = &cobra.Command{
	Use:   "read",
	Short: "Read recent handoff documents",
	RunE:  runHandoffRead,
}

var (
	handoffAgentID string
	handoffSummary string
	handoffDone    []string
	handoffWIP     []string
	handoffNext    []string
	handoffFiles   []string
	handoffFilter  string
	handoffLimit   int
)

func init() {
	handoffCmd.AddCommand(handoffWriteCmd, handoffReadCmd)

	hostname, _ := os.Hostname()
	defaultAgent := fmt.Sprintf("cli@%s", hostname)

	handoffWriteCmd.Flags().StringVar(&handoffAgentID, "agent", defaultAgent, "Agent ID")
	handoffWriteCmd.Flags().StringVar(&handoffSummary, "summary", "", "Summary of the session (required)")
	handoffWriteCmd.Flags().StringSliceVar(&handoffDone, "done", nil, "Completed work items")
	handoffWriteCmd.Flags().StringSliceVar(&handoffWIP, "in-progress", nil, "In-progress work items")
	handoffWriteCmd.Flags().StringSliceVar(&handoffNext, "next", nil, "Suggested next steps")
	handoffWriteCmd.Flags().StringSliceVar(&handoffFiles, "files", nil, "Relevant files")
	handoffWriteCmd.MarkFlagRequired("summary")

	handoffReadCmd.Flags().StringVar(&handoffFilter, "agent", "", "Filter by agent name")
	handoffReadCmd.Flags().IntVar(&handoffLimit, "limit", 1, "Number of documents to read")
}

func runHandoffWrite(cmd *cobra.Command, args []string) error {
	body := map[string]interface{}{
		"agent_id":       handoffAgentID,
		"agent_name":     handoffAgentID,
		"summary":        handoffSummary,
		"completed_work": handoffDone,
		"in_progress":    handoffWIP,
		"next_steps":     handoffNext,
		"relevant_files": handoffFiles,
	}

	resp, err := apiPost("/handoffs", body)
	if err != nil {
		return err
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(resp, &doc); err != nil {
		return err
	}

	fmt.Printf("Wrote handoff: %s\n", doc["handoff_id"])
	return nil
}

func runHandoffRead(cmd *cobra.Command, args []string) error {
	url := "/handoffs?limit=" + strconv.Itoa(handoffLimit)
	if handoffFilter != "" {
		url += "&agent=" + handoffFilter
	}

	resp, err := apiGet(url)
	if err != nil {
		return err
	}

	var docs []map[string]interface{}
	if err := json.Unmarshal(resp, &docs); err != nil {
		return err
	}

	if len(docs) == 0 {
		fmt.Println("No handoffs found")
		return nil
	}

	for i, doc := range docs {
		if i > 0 {
			fmt.Println(strings.Repeat("-", 60))
		}
		fmt.Printf("Agent:   %v\n", doc["agent_name"])
		fmt.Printf("Written: %v\n", doc["created_at"])
		fmt.Printf("Summary: %v\n", doc["summary"])
		printHandoffList("Completed", doc["completed_work"])
		printHandoffList("In Progress", doc["in_progress"])
		printHandoffList("Next Steps", doc["next_steps"])
		printHandoffList("Files", doc["relevant_files"])
	}
	return nil
}

func printHandoffList(label string, v interface{}) {
	items, ok := v.([]interface{})
	if !ok || len(items) == 0 {
		return
	}
	fmt.Printf("%s:\n", label)
	for _, item := range items {
		fmt.Printf("  - %v\n", item)
	}
}
