package server

import (
	"context"
	"time"

	"codeloom/internal/auth"
	"codeloom/internal/i18n"
)

// sendMail delivers one rendered email. A nil mailer turns outbound mail off
// entirely; every send site goes through here so none of them can trip over
// the nil interface.
func (s *Server) sendMail(ctx context.Context, to string, content i18n.EmailContent) error {
	if s.Mailer == nil {
		return nil
	}
	return s.Mailer.Send(ctx, to, content.Subject, content.Text, content.HTML)
}

// sendSignInAlert mails a notice about a fresh login.
func (s *Server) sendSignInAlert(ctx context.Context, user *auth.User, sess auth.Session, locale string) error {
	when := sess.LoginTime.UTC().Format(time.RFC1123)
	content := i18n.SignInAlertEmail(locale, user.Email, when, sess.IP, sess.Location, sess.UserAgent)
	return s.sendMail(ctx, user.Email, content)
}
