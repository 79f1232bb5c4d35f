package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fentz26/cropcare/internal/completion"
	"github.com/fentz26/cropcare/internal/controlplane"
	"github.com/fentz26/cropcare/internal/models"
)

var actionCmd = &cobra.Command{
	Use:   "action",
	Short: "Work with care plan actions",
}

var actionAnalyzeCmd = &cobra.Command{
	Use:   "analyze [plant-id] [day] [action-index]",
	Short: "Show step-by-step guidance and dosage for an action",
	Args:  cobra.ExactArgs(3),
	RunE:  runActionAnalyze,
}

var actionToggleCmd = &cobra.Command{
	Use:   "toggle [plant-id] [day] [action-id]",
	Short: "Mark an action done (or not done with --undo)",
	Args:  cobra.ExactArgs(3),
	RunE:  runActionToggle,
}

var actionLinkCmd = &cobra.Command{
	Use:   "link [plant-id] [day] [action-id]",
	Short: "Issue a one-time completion link for an action",
	Args:  cobra.ExactArgs(3),
	RunE:  runActionLink,
}

var redeemCmd = &cobra.Command{
	Use:   "redeem [token-or-link]",
	Short: "Redeem a completion link",
	Args:  cobra.ExactArgs(1),
	RunE:  runRedeem,
}

var toggleUndo bool

func init() {
	actionCmd.AddCommand(actionAnalyzeCmd, actionToggleCmd, actionLinkCmd)

	actionToggleCmd.Flags().BoolVar(&toggleUndo, "undo", false, "Mark the action as not done")
}

func runActionAnalyze(cmd *cobra.Command, args []string) error {
	day, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid day %q", args[1])
	}
	index, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid action index %q", args[2])
	}

	path := fmt.Sprintf("/plants/%s/days/%d/actions/%d/analysis", url.PathEscape(args[0]), day, index)
	resp, err := apiDo(generationClient, http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	var a models.TaskAnalysis
	if err := json.Unmarshal(resp, &a); err != nil {
		return err
	}

	fmt.Printf("Guidance (%s, about %s)\n", a.Source, a.Duration)
	fmt.Println("\n--- STEPS ---")
	for i, step := range a.Steps {
		fmt.Printf("%d. %s\n", i+1, step)
	}
	if len(a.Materials) > 0 {
		fmt.Println("\n--- MATERIALS ---")
		fmt.Println(strings.Join(a.Materials, "\n"))
	}
	if a.Dosage != nil {
		fmt.Println("\n--- DOSAGE ---")
		fmt.Printf("%.2f %s %s\n", a.Dosage.Total, a.Dosage.Unit, a.Dosage.Product)
		if a.Dosage.Explanation != "" {
			fmt.Println(a.Dosage.Explanation)
		}
	}
	if len(a.Precautions) > 0 {
		fmt.Println("\n--- PRECAUTIONS ---")
		fmt.Println(strings.Join(a.Precautions, "\n"))
	}
	for _, tip := range a.Tips {
		fmt.Println("Tip:", tip)
	}
	return nil
}

func runActionToggle(cmd *cobra.Command, args []string) error {
	day, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid day %q", args[1])
	}

	path := fmt.Sprintf("/plants/%s/days/%d/actions/%s/toggle", url.PathEscape(args[0]), day, url.PathEscape(args[2]))
	if _, err := apiPost(path, map[string]bool{"completed": !toggleUndo}); err != nil {
		return err
	}

	if toggleUndo {
		fmt.Printf("Marked %s not done\n", args[2])
	} else {
		fmt.Printf("Marked %s done\n", args[2])
	}
	return nil
}

func runActionLink(cmd *cobra.Command, args []string) error {
	day, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid day %q", args[1])
	}

	path := fmt.Sprintf("/plants/%s/days/%d/actions/%s/token", url.PathEscape(args[0]), day, url.PathEscape(args[2]))
	resp, err := apiPost(path, nil)
	if err != nil {
		return err
	}

	var tok controlplane.TokenResponse
	if err := json.Unmarshal(resp, &tok); err != nil {
		return err
	}

	fmt.Println(tok.Link)
	return nil
}

func runRedeem(cmd *cobra.Command, args []string) error {
	resp, err := apiPost(completion.RedeemPath+url.PathEscape(tokenFromArg(args[0])), nil)
	if err != nil {
		return err
	}

	var res completion.Redemption
	if err := json.Unmarshal(resp, &res); err != nil {
		return err
	}

	if res.AlreadyCompleted {
		fmt.Printf("%q was already done\n", res.Action.Description)
		return nil
	}
	fmt.Printf("Marked %q done\n", res.Action.Description)
	return nil
}

// tokenFromArg accepts either a raw token or a full completion link.
func tokenFromArg(arg string) string {
	if i := strings.LastIndex(arg, completion.RedeemPath); i >= 0 {
		return arg[i+len(completion.RedeemPath):]
	}
	return arg
}
