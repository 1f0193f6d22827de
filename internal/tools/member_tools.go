package tools

import (
	"context"

	"github.com/prestabot/prestabot/internal/phone"
	"github.com/prestabot/prestabot/internal/store"
)

func createMemberTool() *Tool {
	return &Tool{
		Name:        "create_member",
		Description: "Registra un nuevo miembro (cliente). Úsala cuando el interesado confirme sus datos: nombre completo y, si los dio, cédula y dirección.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "Nombre completo del nuevo miembro",
				},
				"phone": map[string]any{
					"type":        "string",
					"description": "Teléfono del miembro; si falta se usa el número que escribe",
				},
				"cedula": map[string]any{
					"type":        "string",
					"description": "Cédula de identidad (opcional)",
				},
				"address": map[string]any{
					"type":        "string",
					"description": "Dirección del miembro (opcional)",
				},
			},
			"required": []string{"name"},
		},
		Handler: handleCreateMember,
	}
}

func handleCreateMember(ctx context.Context, deps Deps, args map[string]any, tctx *Context) Result {
	name := argString(args, "name")

	rawPhone := argString(args, "phone")
	if rawPhone == "" {
		if tctx == nil || tctx.Phone == "" {
			return failf("No tengo el teléfono del nuevo miembro. Pídale su número.")
		}
		rawPhone = tctx.Phone
	}
	canonical, err := phone.Normalize(rawPhone, deps.Country)
	if err != nil {
		return failf("El teléfono %q no es válido. Pida el número completo con su código de área.", rawPhone)
	}

	member, err := deps.Store.CreateMember(ctx, store.NewMember{
		Name:    name,
		Cedula:  argString(args, "cedula"),
		Phone:   canonical,
		Address: argString(args, "address"),
	})
	if err != nil {
		deps.Logger.Error("create member failed",
			"phone", canonical,
			"error", err,
		)
		return failf("No pude registrar a %s. Es posible que el número %s ya esté registrado.", name, canonical)
	}

	// Drain the onboarding conversation into the member's durable
	// history now that there is a row to attach it to.
	if deps.Migrator != nil {
		deps.Migrator.Migrate(ctx, canonical, member.ID, func(ctx context.Context, memberID, role, text string, attachments []string) (string, error) {
			return deps.Store.AddMemberMessage(ctx, memberID, role, text, attachments)
		})
	}

	publishEvent(ctx, deps, "member.registered", map[string]any{
		"member_id": member.ID,
		"phone":     member.Phone,
	})

	return ok("Miembro registrado: "+member.Name+" ("+member.Phone+").", map[string]any{
		"member_id": member.ID,
		"phone":     member.Phone,
	})
}
