package client

import (
	"errors"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"github.com/casedesk/relay/dispatch"
)

const (
	msgUnavailable = "The service is temporarily unavailable. Please try again."
	msgRejected    = "The request could not be completed."
	msgDenied      = "You are not allowed to perform this action."
	msgUnexpected  = "An unexpected error occurred."
)

var supported = []language.Tag{language.English, language.French, language.Arabic}

var (
	matcher  = language.NewMatcher(supported)
	messages = newCatalog()
)

func newCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	set := func(tag language.Tag, key, msg string) {
		if err := b.SetString(tag, key, msg); err != nil {
			panic(err)
		}
	}
	for _, key := range []string{msgUnavailable, msgRejected, msgDenied, msgUnexpected} {
		set(language.English, key, key)
	}

	set(language.French, msgUnavailable, "Le service est temporairement indisponible. Veuillez réessayer.")
	set(language.French, msgRejected, "La requête n'a pas pu aboutir.")
	set(language.French, msgDenied, "Vous n'êtes pas autorisé à effectuer cette action.")
	set(language.French, msgUnexpected, "Une erreur inattendue s'est produite.")

	set(language.Arabic, msgUnavailable, "الخدمة غير متاحة مؤقتا. يرجى المحاولة مرة أخرى.")
	set(language.Arabic, msgRejected, "تعذر إتمام الطلب.")
	set(language.Arabic, msgDenied, "غير مسموح لك بتنفيذ هذا الإجراء.")
	set(language.Arabic, msgUnexpected, "حدث خطأ غير متوقع.")
	return b
}

// UserMessage returns the text to show a user for err in lang (a BCP 47 tag;
// unknown languages get English). Outages get a localized retry hint and
// business failures the backend's own message. Session expiry and
// cancellation return "" because the application redirects instead.
func UserMessage(err error, lang string) string {
	if err == nil || dispatch.IsSessionExpired(err) || dispatch.IsCancelled(err) {
		return ""
	}

	var e *dispatch.Error
	if !errors.As(err, &e) {
		return localize(lang, msgUnexpected)
	}
	switch e.Kind {
	case dispatch.KindNetwork, dispatch.KindTimeout, dispatch.KindServerError:
		return localize(lang, msgUnavailable)
	case dispatch.KindClientError, dispatch.KindUnauthorized:
		if backend := e.Error(); backend == e.Message {
			return backend
		}
		if e.Kind == dispatch.KindUnauthorized || e.Status == 403 {
			return localize(lang, msgDenied)
		}
		return localize(lang, msgRejected)
	default:
		return localize(lang, msgUnexpected)
	}
}

func localize(lang, key string) string {
	tag, _ := language.Parse(lang)
	_, idx, _ := matcher.Match(tag)
	return message.NewPrinter(supported[idx], message.Catalog(messages)).Sprintf(key)
}
