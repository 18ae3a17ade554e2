package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fentz26/crewd/internal/agents"
	"github.com/spf13/cobra"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage agent sessions",
}

var agentRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register an agent session",
	RunE:  runAgentRegister,
}

var agentHeartbeatCmd = &cobra.Command{
	Use:   "heartbeat [session-id]",
	Short: "Record a heartbeat for a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentHeartbeat,
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered agents",
	RunE:  runAgentList,
}

var agentSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Reclaim resources from dead agents",
	RunE:  runAgentSweep,
}

var agentEndCmd = &cobra.Command{
	Use:   "end [session-id]",
	Short: "End a session gracefully",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAgentEnd,
}

var (
	agentID      string
	agentType    string
	agentCaps    []string
	agentDetect  bool
	agentCapFlt  string
	agentStatFlt string
	sweepAfter   int
)

func init() {
	agentCmd.AddCommand(agentRegisterCmd, agentHeartbeatCmd, agentListCmd, agentSweepCmd, agentEndCmd)

	hostname, _ := os.Hostname()
	defaultAgent := fmt.Sprintf("cli@%s", hostname)

	agentRegisterCmd.Flags().StringVar(&agentID, "agent", defaultAgent, "Agent ID")
	agentRegisterCmd.Flags().StringVar(&agentType, "type", "", "Agent type (claude, aider, ...)")
	agentRegisterCmd.Flags().StringSliceVar(&agentCaps, "capabilities", nil, "Agent capabilities")
	agentRegisterCmd.Flags().BoolVar(&agentDetect, "detect", false, "Detect an installed agent CLI and register as it")

	agentListCmd.Flags().StringVar(&agentCapFlt, "capability", "", "Filter by capability")
	agentListCmd.Flags().StringVar(&agentStatFlt, "status", "", "Filter by status (active, idle, disconnected)")

	agentSweepCmd.Flags().IntVar(&sweepAfter, "stale-after", 0, "Stale threshold in seconds (0 = server default)")

	agentEndCmd.Flags().StringVar(&agentID, "agent", defaultAgent, "Agent ID")
}

func runAgentRegister(cmd *cobra.Command, args []string) error {
	if agentDetect {
		detected := agents.NewDetector().First()
		if detected == nil {
			return fmt.Errorf("no supported agent CLI found on PATH")
		}
		agentType = detected.AgentType
		if len(agentCaps) == 0 {
			agentCaps = detected.Capabilities
		}
		fmt.Printf("Detected %s at %s\n", detected.Name, detected.Path)
	}

	body := map[string]interface{}{
		"agent_id":     agentID,
		"agent_type":   agentType,
		"capabilities": agentCaps,
	}

	resp, err := apiPost("/agents/register", body)
	if err != nil {
		return err
	}

	var session map[string]interface{}
	if err := json.Unmarshal(resp, &session); err != nil {
		return err
	}

	fmt.Printf("Registered session: %s\n", session["session_id"])
	return nil
}

func runAgentHeartbeat(cmd *cobra.Command, args []string) error {
	body := map[string]string{"session_id": args[0]}

	_, err := apiPost("/agents/heartbeat", body)
	if err != nil {
		return err
	}

	fmt.Println("Heartbeat recorded")
	return nil
}

func runAgentList(cmd *cobra.Command, args []string) error {
	url := "/agents"
	params := []string{}
	if agentCapFlt != "" {
		params = append(params, "capability="+agentCapFlt)
	}
	if agentStatFlt != "" {
		params = append(params, "status="+agentStatFlt)
	}
	if len(params) > 0 {
		url += "?" + strings.Join(params, "&")
	}

	resp, err := apiGet(url)
	if err != nil {
		return err
	}

	var sessions []map[string]interface{}
	if err := json.Unmarshal(resp, &sessions); err != nil {
		return err
	}

	if len(sessions) == 0 {
		fmt.Println("No agents found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tAGENT\tTYPE\tSTATUS\tLAST SEEN")
	for _, s := range sessions {
		session := truncateID(s["session_id"].(string))
		agentType := ""
		if t, ok := s["agent_type"].(string); ok {
			agentType = t
		}
		fmt.Fprintf(w, "%s\t%v\t%s\t%v\t%v\n", session, s["agent_id"], agentType, s["status"], s["last_heartbeat"])
	}
	w.Flush()
	return nil
}

func runAgentSweep(cmd *cobra.Command, args []string) error {
	body := map[string]interface{}{
		"stale_threshold_seconds": sweepAfter,
	}

	resp, err := apiPost("/agents/sweep", body)
	if err != nil {
		return err
	}

	var result map[string]int
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}

	fmt.Printf("Reclaimed %d dead sessions\n", result["reclaimed"])
	return nil
}

func runAgentEnd(cmd *cobra.Command, args []string) error {
	body := map[string]interface{}{
		"agent_id": agentID,
	}
	if len(args) > 0 {
		body["session_id"] = args[0]
	}

	_, err := apiPost("/agents/end", body)
	if err != nil {
		return err
	}

	fmt.Println("Session ended")
	return nil
}
