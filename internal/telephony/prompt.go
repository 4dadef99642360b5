package telephony

import (
	"strings"
	"text/template"

	"callpilot/internal/calls"
)

type promptData struct {
	calls.CallRequest
	FromNumber string
}

var promptTmpl = template.Must(template.New("prompt").Parse(
	`You are calling customer support on behalf of {{.CallerName}}.

Instructions:
1. Identify yourself right away: "Hello, my name is {{.CallerName}}, and my phone number is {{.CallerPhone}}."
2. State the request clearly: "{{.AccountAction}}"
{{- if .AdditionalInfo}}
3. Provide this information when asked: {{.AdditionalInfo}}
{{- end}}
- Follow the representative's verification steps and stay polite.
- Confirm out loud when the requested action has been completed.
- Thank the representative before ending the call.

Context:
{{- if .FromNumber}}
- Calling from: {{.FromNumber}}
{{- end}}
- Calling to: {{.PhoneNumber}}
- Caller represented: {{.CallerName}} ({{.CallerPhone}})
- Requested action: {{.AccountAction}}`))

var greetingTmpl = template.Must(template.New("greeting").Parse(
	`Hello, my name is {{.CallerName}}, and my phone number is {{.CallerPhone}}.`))

func renderPrompt(req calls.CallRequest, from string) (string, error) {
	return render(promptTmpl, promptData{CallRequest: req, FromNumber: from})
}

func renderGreeting(req calls.CallRequest) (string, error) {
	return render(greetingTmpl, promptData{CallRequest: req})
}

func render(t *template.Template, data promptData) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}
