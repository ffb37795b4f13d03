package timer

import (
	"fmt"
	"time"

	"github.com/opsdesk/casebot/internal/chat"
)

// renderPanel builds the live panel message for a task: an embed mirroring
// the task state plus the transition buttons valid from it. Button custom
// ids carry (userId, taskId) so clicks route without server-side session
// state.
func renderPanel(t TaskState, loc *time.Location) chat.Message {
	color := chat.ColorInfo
	switch t.Status {
	case StatusPaused:
		color = chat.ColorWarning
	case StatusFinished:
		color = chat.ColorSuccess
	}

	embed := chat.Embed{
		Title: fmt.Sprintf("Tarea de %s", t.DisplayName),
		Color: color,
		Fields: []chat.EmbedField{
			{Name: "Tipo", Value: t.TaskKind, Inline: true},
			{Name: "Estado", Value: string(t.Status), Inline: true},
			{Name: "Inicio", Value: t.StartedAt.In(loc).Format(EventLayout), Inline: true},
			{Name: "Pausa acumulada", Value: FormatDuration(t.AccumulatedPause), Inline: true},
		},
		Footer: t.TaskID,
	}
	if t.Observations != "" {
		embed.Fields = append(embed.Fields, chat.EmbedField{Name: "Observaciones", Value: t.Observations})
	}
	if t.Status == StatusFinished {
		embed.Fields = append(embed.Fields, chat.EmbedField{
			Name: "Casos", Value: fmt.Sprintf("%d", t.CaseCount), Inline: true,
		})
		if t.FinishedAt != nil {
			embed.Fields = append(embed.Fields, chat.EmbedField{
				Name: "Fin", Value: t.FinishedAt.In(loc).Format(EventLayout), Inline: true,
			})
		}
		return chat.Message{Embeds: []chat.Embed{embed}}
	}

	suffix := t.UserID + ":" + t.TaskID
	var buttons []chat.Button
	if t.Status == StatusInProgress {
		buttons = append(buttons, chat.Button{
			Label: "Pausar", CustomID: "timer:pause:" + suffix, Style: chat.ButtonSecondary,
		})
	} else {
		buttons = append(buttons, chat.Button{
			Label: "Reanudar", CustomID: "timer:resume:" + suffix, Style: chat.ButtonPrimary,
		})
	}
	buttons = append(buttons, chat.Button{
		Label: "Finalizar", CustomID: "timer:finish:" + suffix, Style: chat.ButtonDanger,
	})

	return chat.Message{Embeds: []chat.Embed{embed}, Buttons: buttons}
}
