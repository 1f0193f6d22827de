package tools

import (
	"context"

	"github.com/prestabot/prestabot/internal/store"
)

func createPaymentTool() *Tool {
	return &Tool{
		Name:        "create_payment",
		Description: "Registra un pago cobrado sobre un préstamo. Úsala cuando un cobrador reporte un cobro con número de préstamo y monto.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"loan_number": map[string]any{
					"type":        []string{"integer", "string"},
					"description": "Número del préstamo, por ejemplo 153",
				},
				"amount": map[string]any{
					"type":        []string{"number", "string"},
					"description": "Monto cobrado en pesos, por ejemplo 500 o RD$500.00",
				},
				"note": map[string]any{
					"type":        "string",
					"description": "Nota opcional sobre el cobro",
				},
			},
			"required": []string{"loan_number", "amount"},
		},
		Handler: handleCreatePayment,
	}
}

func handleCreatePayment(ctx context.Context, deps Deps, args map[string]any, tctx *Context) Result {
	collectorID, okStaff := tctx.StaffID()
	if !okStaff {
		return failf("No pude identificar al cobrador que registra el pago.")
	}

	number, err := parsePositiveInt(args["loan_number"])
	if err != nil {
		return failf("El número de préstamo debe ser un entero positivo, por ejemplo 153.")
	}
	amountCents, err := parseAmountCents(args["amount"])
	if err != nil {
		return failf("El monto debe ser una cantidad positiva en pesos, por ejemplo 500.")
	}

	loan, err := deps.Store.LoanByNumber(ctx, number)
	if err != nil {
		deps.Logger.Error("loan lookup failed", "loan_number", number, "error", err)
		return failf("No pude consultar el préstamo #%d. Intente de nuevo.", number)
	}
	if loan == nil {
		return failf("No existe el préstamo #%d.", number)
	}
	if loan.Status != store.LoanActive {
		return failf("El préstamo #%d no está activo (estado: %s).", number, loan.Status)
	}
	if loan.CollectorID != collectorID && !tctx.IsAdmin() {
		return failf("El préstamo #%d no está asignado a usted.", number)
	}

	payment, err := deps.Store.CreatePayment(ctx, store.NewPayment{
		LoanID:      loan.ID,
		CollectorID: collectorID,
		AmountCents: amountCents,
		Note:        argString(args, "note"),
	})
	if err != nil {
		deps.Logger.Error("create payment failed",
			"loan_number", number,
			"collector_id", collectorID,
			"error", err,
		)
		return failf("No pude registrar el pago de %s al préstamo #%d. Intente de nuevo.", formatCents(amountCents), number)
	}

	publishEvent(ctx, deps, "payment.created", map[string]any{
		"payment_id":   payment.ID,
		"loan_id":      loan.ID,
		"loan_number":  loan.Number,
		"collector_id": collectorID,
		"amount_cents": amountCents,
	})

	data := map[string]any{
		"payment_id":   payment.ID,
		"loan_number":  loan.Number,
		"amount_cents": amountCents,
	}

	// The payment is committed; a receipt failure must not undo that
	// from the caller's point of view, only change the reply.
	if deps.Receipts != nil {
		receipt, rerr := deps.Receipts.RenderPayment(ctx, payment.ID)
		if rerr != nil {
			deps.Logger.Warn("receipt generation failed",
				"payment_id", payment.ID,
				"error", rerr,
			)
			data["receipt_pending"] = true
			return ok("Pago de "+formatCents(amountCents)+" registrado al préstamo #"+
				formatLoanNumber(loan.Number)+", pero el recibo no pudo generarse. Puede pedirlo de nuevo más tarde.", data)
		}
		data["receipt"] = receipt
	}

	return ok("Pago de "+formatCents(amountCents)+" registrado al préstamo #"+formatLoanNumber(loan.Number)+".", data)
}

func generateReceiptTool() *Tool {
	return &Tool{
		Name:        "generate_receipt",
		Description: "Genera de nuevo el recibo de un pago ya registrado.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"payment_id": map[string]any{
					"type":        "string",
					"description": "Identificador del pago",
				},
			},
			"required": []string{"payment_id"},
		},
		Handler: handleGenerateReceipt,
	}
}

func handleGenerateReceipt(ctx context.Context, deps Deps, args map[string]any, tctx *Context) Result {
	if _, okStaff := tctx.StaffID(); !okStaff {
		return failf("Solo el personal puede generar recibos.")
	}
	if deps.Receipts == nil {
		return failf("La generación de recibos no está disponible en este momento.")
	}

	paymentID := argString(args, "payment_id")
	receipt, err := deps.Receipts.RenderPayment(ctx, paymentID)
	if err != nil {
		deps.Logger.Warn("receipt generation failed", "payment_id", paymentID, "error", err)
		return failf("No pude generar el recibo del pago. Intente de nuevo más tarde.")
	}
	return ok("Recibo generado.", map[string]any{"receipt": receipt})
}
