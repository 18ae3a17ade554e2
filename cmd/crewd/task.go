package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage the work queue",
}

var taskSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new task",
	RunE:  runTaskSubmit,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show [task-id]",
	Short: "Show task details",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskClaimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Claim the next eligible task",
	RunE:  runTaskClaim,
}

var taskStartCmd = &cobra.Command{
	Use:   "start [task-id]",
	Short: "Mark a claimed task as running",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskStart,
}

var taskDoneCmd = &cobra.Command{
	Use:   "done [task-id]",
	Short: "Report a task result",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskDone,
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel [task-id]",
	Short: "Cancel a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskCancel,
}

var (
	taskType      string
	taskDesc      string
	taskPayload   string
	taskPriority  int
	taskDeps      []string
	taskStatus    string
	taskAgentID   string
	taskTypes     []string
	taskFailed    bool
	taskResult    string
	taskErrMsg    string
	taskCancelWhy string
)

func init() {
	taskCmd.AddCommand(taskSubmitCmd, taskListCmd, taskShowCmd, taskClaimCmd, taskStartCmd, taskDoneCmd, taskCancelCmd)

	hostname, _ := os.Hostname()
	defaultAgent := fmt.Sprintf("cli@%s", hostname)

	taskSubmitCmd.Flags().StringVar(&taskType, "type", "", "Task type (required)")
	taskSubmitCmd.Flags().StringVar(&taskDesc, "desc", "", "Task description")
	taskSubmitCmd.Flags().StringVar(&taskPayload, "payload", "", "Input payload")
	taskSubmitCmd.Flags().IntVar(&taskPriority, "priority", 5, "Priority (lower runs first)")
	taskSubmitCmd.Flags().StringSliceVar(&taskDeps, "depends-on", nil, "Task IDs this task depends on")
	taskSubmitCmd.Flags().StringVar(&taskAgentID, "agent", defaultAgent, "Submitting agent ID")
	taskSubmitCmd.MarkFlagRequired("type")

	taskListCmd.Flags().StringVar(&taskStatus, "status", "", "Filter by status (pending, assigned, running, completed, failed, cancelled)")

	taskClaimCmd.Flags().StringVar(&taskAgentID, "agent", defaultAgent, "Claiming agent ID")
	taskClaimCmd.Flags().StringSliceVar(&taskTypes, "types", nil, "Only claim tasks of these types")

	taskStartCmd.Flags().StringVar(&taskAgentID, "agent", defaultAgent, "Agent ID")

	taskDoneCmd.Flags().StringVar(&taskAgentID, "agent", defaultAgent, "Agent ID")
	taskDoneCmd.Flags().BoolVar(&taskFailed, "failed", false, "Report failure instead of success")
	taskDoneCmd.Flags().StringVar(&taskResult, "result", "", "Result payload")
	taskDoneCmd.Flags().StringVar(&taskErrMsg, "error", "", "Error message (with --failed)")

	taskCancelCmd.Flags().StringVar(&taskAgentID, "agent", defaultAgent, "Agent ID")
	taskCancelCmd.Flags().StringVar(&taskCancelWhy, "reason", "", "Cancellation reason")
}

func runTaskSubmit(cmd *cobra.Command, args []string) error {
	body := map[string]interface{}{
		"agent_id":      taskAgentID,
		"task_type":     taskType,
		"description":   taskDesc,
		"input_payload": taskPayload,
		"priority":      taskPriority,
		"depends_on":    taskDeps,
	}

	resp, err := apiPost("/tasks", body)
	if err != nil {
		return err
	}

	var task map[string]interface{}
	if err := json.Unmarshal(resp, &task); err != nil {
		return err
	}

	fmt.Printf("Submitted task: %s\n", task["task_id"])
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	url := "/tasks"
	if taskStatus != "" {
		url += "?status=" + taskStatus
	}

	resp, err := apiGet(url)
	if err != nil {
		return err
	}

	var tasks []map[string]interface{}
	if err := json.Unmarshal(resp, &tasks); err != nil {
		return err
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tPRI\tSTATUS\tASSIGNED TO")
	for _, t := range tasks {
		id := truncateID(t["task_id"].(string))
		taskType := truncate(t["task_type"].(string), 24)
		status := t["status"].(string)
		assignedTo := ""
		if a, ok := t["assigned_to"].(string); ok {
			assignedTo = a
		}
		fmt.Fprintf(w, "%s\t%s\t%.0f\t%s\t%s\n", id, taskType, t["priority"].(float64), status, assignedTo)
	}
	w.Flush()
	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/tasks/" + args[0])
	if err != nil {
		return err
	}

	var task map[string]interface{}
	if err := json.Unmarshal(resp, &task); err != nil {
		return err
	}

	fmt.Printf("ID:          %s\n", task["task_id"])
	fmt.Printf("Type:        %s\n", task["task_type"])
	fmt.Printf("Description: %s\n", task["description"])
	fmt.Printf("Status:      %s\n", task["status"])
	fmt.Printf("Priority:    %.0f\n", task["priority"].(float64))
	if deps, ok := task["depends_on"].([]interface{}); ok && len(deps) > 0 {
		parts := make([]string, len(deps))
		for i, d := range deps {
			parts[i] = fmt.Sprintf("%v", d)
		}
		fmt.Printf("Depends On:  %s\n", strings.Join(parts, ", "))
	}
	if a, ok := task["assigned_to"].(string); ok && a != "" {
		fmt.Printf("Assigned To: %s\n", a)
	}
	if e, ok := task["error_message"].(string); ok && e != "" {
		fmt.Printf("Error:       %s\n", e)
	}
	fmt.Printf("Created:     %s\n", task["created_at"])
	return nil
}

func runTaskClaim(cmd *cobra.Command, args []string) error {
	body := map[string]interface{}{
		"agent_id":           taskAgentID,
		"allowed_task_types": taskTypes,
	}

	resp, err := apiPost("/tasks/claim", body)
	if err != nil {
		return err
	}

	var result map[string]interface{}
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}

	if result["status"] == "no_work_available" {
		fmt.Println("No eligible work")
		return nil
	}

	task := result["task"].(map[string]interface{})
	fmt.Printf("Claimed task %s (%s)\n", task["task_id"], task["task_type"])
	return nil
}

func runTaskStart(cmd *cobra.Command, args []string) error {
	body := map[string]interface{}{"agent_id": taskAgentID}

	_, err := apiPost("/tasks/"+args[0]+"/start", body)
	if err != nil {
		return err
	}

	fmt.Printf("Task %s is running\n", args[0])
	return nil
}

func runTaskDone(cmd *cobra.Command, args []string) error {
	body := map[string]interface{}{
		"agent_id":       taskAgentID,
		"success":        !taskFailed,
		"result_payload": taskResult,
		"error_message":  taskErrMsg,
	}

	_, err := apiPost("/tasks/"+args[0]+"/complete", body)
	if err != nil {
		return err
	}

	if taskFailed {
		fmt.Printf("Task %s reported failed\n", args[0])
	} else {
		fmt.Printf("Task %s completed\n", args[0])
	}
	return nil
}

func runTaskCancel(cmd *cobra.Command, args []string) error {
	body := map[string]interface{}{
		"agent_id": taskAgentID,
		"reason":   taskCancelWhy,
	}

	_, err := apiPost("/tasks/"+args[0]+"/cancel", body)
	if err != nil {
		return err
	}

	fmt.Printf("Cancelled task %s\n", args[0])
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
