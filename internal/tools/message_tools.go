package tools

import (
	"context"

	"github.com/prestabot/prestabot/internal/phone"
)

func sendMessageTool() *Tool {
	return &Tool{
		Name:        "send_message",
		Description: "Envía un mensaje de texto a un número de teléfono. Úsala cuando el personal pida notificar a un miembro.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"phone": map[string]any{
					"type":        "string",
					"description": "Teléfono del destinatario",
				},
				"text": map[string]any{
					"type":        "string",
					"description": "Texto del mensaje",
				},
			},
			"required": []string{"phone", "text"},
		},
		Handler: handleSendMessage,
	}
}

func handleSendMessage(ctx context.Context, deps Deps, args map[string]any, tctx *Context) Result {
	if _, okStaff := tctx.StaffID(); !okStaff {
		return failf("Solo el personal puede enviar mensajes.")
	}
	if deps.Messenger == nil {
		return failf("El envío de mensajes no está disponible en este momento.")
	}

	rawPhone := argString(args, "phone")
	canonical, err := phone.Normalize(rawPhone, deps.Country)
	if err != nil {
		return failf("El teléfono %q no es válido.", rawPhone)
	}

	if err := deps.Messenger.Send(ctx, canonical, argString(args, "text")); err != nil {
		deps.Logger.Error("outbound send failed", "phone", canonical, "error", err)
		return failf("No pude enviar el mensaje a %s. Intente de nuevo.", canonical)
	}
	return ok("Mensaje enviado a "+canonical+".", map[string]any{"phone": canonical})
}

func uploadMediaTool() *Tool {
	return &Tool{
		Name:        "upload_media",
		Description: "Guarda una imagen o documento recibido (foto de cédula, comprobante) y devuelve una referencia durable.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"source_url": map[string]any{
					"type":        "string",
					"description": "URL de origen del archivo",
				},
				"filename": map[string]any{
					"type":        "string",
					"description": "Nombre sugerido del archivo (opcional)",
				},
			},
			"required": []string{"source_url"},
		},
		Handler: handleUploadMedia,
	}
}

func handleUploadMedia(ctx context.Context, deps Deps, args map[string]any, tctx *Context) Result {
	if deps.Media == nil {
		return failf("El almacenamiento de archivos no está disponible en este momento.")
	}

	sourceURL := argString(args, "source_url")
	ref, err := deps.Media.Upload(ctx, sourceURL, argString(args, "filename"))
	if err != nil {
		deps.Logger.Error("media upload failed", "source_url", sourceURL, "error", err)
		return failf("No pude guardar el archivo. Intente de nuevo.")
	}
	return ok("Archivo guardado.", map[string]any{"reference": ref})
}
