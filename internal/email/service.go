// Package email delivers invite links over SMTP.
package email

import (
	"fmt"
	"net/smtp"
	"net/url"
	"strings"
	"time"
)

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	// ClientURL is the web client base used for links in mail bodies.
	ClientURL string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendEmail sends a plain text email
func (s *Service) SendEmail(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		from,
		subject,
		body,
	))

	if err := s.send(s.server, s.auth, s.config.From, to, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// ProjectInvite describes one invite mail.
type ProjectInvite struct {
	To          string
	SenderName  string
	ProjectID   string
	ProjectName string
	Token       string
	ExpiresAt   time.Time
}

// InviteURL is the client page that accepts an invite token.
func (s *Service) InviteURL(invite ProjectInvite) string {
	return s.acceptURL("project", invite.To, invite.ProjectID, invite.Token)
}

func (s *Service) acceptURL(kind, to, id, token string) string {
	values := url.Values{}
	values.Set("email", to)
	values.Set("id", id)
	values.Set("link", token)
	return strings.TrimRight(s.config.ClientURL, "/") + "/invite/" + kind + "/success?" + values.Encode()
}

func (s *Service) SendProjectInvite(invite ProjectInvite) error {
	body := inviteBody(invite.SenderName, invite.ProjectName, s.InviteURL(invite), invite.ExpiresAt)
	return s.SendEmail([]string{invite.To}, "Project invite | "+invite.ProjectName, body)
}

type TeamInvite struct {
	To         string
	SenderName string
	TeamID     string
	TeamName   string
	Token      string
	ExpiresAt  time.Time
}

func (s *Service) SendTeamInvite(invite TeamInvite) error {
	link := s.acceptURL("team", invite.To, invite.TeamID, invite.Token)
	body := inviteBody(invite.SenderName, invite.TeamName, link, invite.ExpiresAt)
	return s.SendEmail([]string{invite.To}, "Team invite | "+invite.TeamName, body)
}

func inviteBody(sender, target, link string, expiresAt time.Time) string {
	if sender == "" {
		sender = "A teammate"
	}
	body := fmt.Sprintf("%s invited you to %s.\r\n\r\nAccept the invite: %s\r\n", sender, target, link)
	if !expiresAt.IsZero() {
		body += fmt.Sprintf("\r\nThe link is valid until %s.\r\n", expiresAt.UTC().Format(time.RFC1123))
	}
	return body
}
