package submission

import "fmt"

// Reason is the stable code behind a Result. It is meant for logs and
// metrics; callers show Result.Message instead.
type Reason string

const (
	ReasonOK               Reason = "ok"
	ReasonMethod           Reason = "method_not_allowed"
	ReasonUserAgent        Reason = "suspicious_user_agent"
	ReasonRateLimited      Reason = "rate_limited"
	ReasonHoneypot         Reason = "honeypot"
	ReasonTimingInvalid    Reason = "timing_invalid"
	ReasonTooFast          Reason = "too_fast"
	ReasonCSRF             Reason = "csrf_mismatch"
	ReasonChallenge        Reason = "challenge_failed"
	ReasonInvalidFormat    Reason = "invalid_format"
	ReasonRequiredMissing  Reason = "required_missing"
	ReasonUnsafeContent    Reason = "unsafe_content"
	ReasonInvalidEmail     Reason = "invalid_email"
	ReasonInvalidPhone     Reason = "invalid_phone"
	ReasonInvalidName      Reason = "invalid_name"
	ReasonMissingRecipient Reason = "missing_recipient"
	ReasonDeliveryFailed   Reason = "delivery_failed"
	ReasonInternal         Reason = "internal_error"
)

// OperatorFault reports reasons caused by deployment state rather than by
// the caller.
func (r Reason) OperatorFault() bool {
	switch r {
	case ReasonMissingRecipient, ReasonDeliveryFailed, ReasonInternal:
		return true
	}
	return false
}

type catalog struct {
	messages map[Reason]string
	intro    string
	subject  string
}

const (
	LocaleEN   = "en"
	LocalePTBR = "pt-BR"
)

var catalogs = map[string]catalog{
	LocaleEN: {
		messages: map[Reason]string{
			ReasonOK:               "message sent successfully!",
			ReasonMethod:           "invalid request method.",
			ReasonUserAgent:        "invalid or suspicious user agent.",
			ReasonRateLimited:      "too many attempts in a short period, try again later.",
			ReasonHoneypot:         "invalid submission",
			ReasonTimingInvalid:    "invalid timing data",
			ReasonTooFast:          "submitted too fast, please try again.",
			ReasonCSRF:             "security token validation failed.",
			ReasonChallenge:        "security validation failed, reload the page and try again.",
			ReasonInvalidFormat:    "invalid data format",
			ReasonRequiredMissing:  "fill all required fields",
			ReasonUnsafeContent:    "invalid content detected in form.",
			ReasonInvalidEmail:     "invalid email.",
			ReasonInvalidPhone:     "invalid phone.",
			ReasonInvalidName:      "invalid name.",
			ReasonMissingRecipient: "missing email destination configuration",
			ReasonDeliveryFailed:   "could not send your message right now, try again later",
			ReasonInternal:         "could not process your message right now, try again later",
		},
		intro:   "New contact received through the site %s:",
		subject: "new contact",
	},
	LocalePTBR: {
		messages: map[Reason]string{
			ReasonOK:               "Mensagem enviada com sucesso!",
			ReasonMethod:           "Método de requisição inválido.",
			ReasonUserAgent:        "User-Agent inválido ou suspeito.",
			ReasonRateLimited:      "Muitas tentativas em um curto período. Tente novamente em alguns minutos.",
			ReasonHoneypot:         "Submissão inválida.",
			ReasonTimingInvalid:    "Dados de tempo inválidos.",
			ReasonTooFast:          "Formulário enviado rápido demais. Por favor, tente novamente.",
			ReasonCSRF:             "Falha de segurança na validação do token.",
			ReasonChallenge:        "Validação de segurança falhou. Recarregue a página e tente novamente.",
			ReasonInvalidFormat:    "Formato de dados inválido.",
			ReasonRequiredMissing:  "Preencha todos os campos obrigatórios.",
			ReasonUnsafeContent:    "Conteúdo inválido detectado no formulário.",
			ReasonInvalidEmail:     "E-mail inválido.",
			ReasonInvalidPhone:     "Telefone inválido.",
			ReasonInvalidName:      "Nome inválido.",
			ReasonMissingRecipient: "Configuração de destino de e-mail ausente.",
			ReasonDeliveryFailed:   "Não foi possível enviar sua mensagem no momento. Tente novamente mais tarde.",
			ReasonInternal:         "Não foi possível processar sua mensagem no momento. Tente novamente mais tarde.",
		},
		intro:   "Novo contato recebido através do site %s:",
		subject: "Novo contato",
	},
}

// SupportedLocale reports whether a message catalog exists for locale.
func SupportedLocale(locale string) bool {
	_, ok := catalogs[locale]
	return ok
}

func catalogFor(locale string) catalog {
	if c, ok := catalogs[locale]; ok {
		return c
	}
	return catalogs[LocaleEN]
}

// MessageFor returns the caller-facing text for reason. Unknown locales
// fall back to English.
func MessageFor(locale string, reason Reason) string {
	c := catalogFor(locale)
	if msg, ok := c.messages[reason]; ok {
		return msg
	}
	return c.messages[ReasonInternal]
}

func (c catalog) introLine(siteName string) string {
	return fmt.Sprintf(c.intro, siteName)
}
