package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

func listCollectorLoansTool() *Tool {
	return &Tool{
		Name:        "list_collector_loans",
		Description: "Lista los préstamos activos asignados al cobrador que pregunta. Un administrador puede pasar collector_id para consultar la cartera de otro cobrador.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"collector_id": map[string]any{
					"type":        "string",
					"description": "Identificador de otro cobrador (solo administradores)",
				},
			},
		},
		Handler: handleListCollectorLoans,
	}
}

func handleListCollectorLoans(ctx context.Context, deps Deps, args map[string]any, tctx *Context) Result {
	collectorID, okStaff := tctx.StaffID()
	if !okStaff {
		return failf("No pude identificar al cobrador que consulta.")
	}

	if other := argString(args, "collector_id"); other != "" && other != collectorID {
		if !tctx.IsAdmin() {
			return failf("Solo un administrador puede consultar los préstamos de otro cobrador.")
		}
		collectorID = other
	}

	loans, err := deps.Store.LoansByCollector(ctx, collectorID)
	if err != nil {
		deps.Logger.Error("loan list failed", "collector_id", collectorID, "error", err)
		return failf("No pude consultar los préstamos. Intente de nuevo.")
	}
	if len(loans) == 0 {
		return ok("No tiene préstamos activos asignados.", map[string]any{"loans": []any{}})
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Préstamos activos (%d):\n", len(loans))
	summary := make([]map[string]any, 0, len(loans))
	for _, l := range loans {
		fmt.Fprintf(&sb, "• #%d — balance %s (%s)\n", l.Number, formatCents(l.BalanceCents), cycleLabel(l.Cycle))
		summary = append(summary, map[string]any{
			"loan_number":   l.Number,
			"balance_cents": l.BalanceCents,
			"cycle":         l.Cycle,
		})
	}
	return ok(strings.TrimRight(sb.String(), "\n"), map[string]any{"loans": summary})
}

func cycleLabel(cycle string) string {
	switch cycle {
	case "daily":
		return "diario"
	case "weekly":
		return "semanal"
	default:
		return cycle
	}
}

func formatLoanNumber(number int64) string {
	return strconv.FormatInt(number, 10)
}
