// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package alert sends alert mails when a WIB-CRYO bring-up fails.
package alert // import "github.com/go-lpc/cryo/internal/alert"

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-lpc/cryo/wib"
	mail "gopkg.in/gomail.v2"
)

// ErrNoCredentials is returned when the mail credentials are incomplete.
var ErrNoCredentials = errors.New("alert: missing credentials")

// Mailer sends alert mails through an SMTP server.
type Mailer struct {
	Usr  string
	Pwd  string
	Srv  string
	Port int
	Tgts []string

	send func(msg *mail.Message) error
}

// FromEnv creates a mailer from the $MAIL_USERNAME, $MAIL_PASSWORD,
// $MAIL_SERVER, $MAIL_PORT and $MAIL_TGTS environment variables.
func FromEnv(getenv func(key string) string) *Mailer {
	if getenv == nil {
		getenv = os.Getenv
	}
	port, _ := strconv.Atoi(getenv("MAIL_PORT"))
	m := &Mailer{
		Usr:  getenv("MAIL_USERNAME"),
		Pwd:  getenv("MAIL_PASSWORD"),
		Srv:  getenv("MAIL_SERVER"),
		Port: port,
	}
	for _, tgt := range strings.Split(getenv("MAIL_TGTS"), ",") {
		tgt = strings.TrimSpace(tgt)
		if tgt == "" {
			continue
		}
		m.Tgts = append(m.Tgts, tgt)
	}
	return m
}

func (m *Mailer) valid() bool {
	return m.Usr != "" && m.Pwd != "" &&
		m.Srv != "" && m.Port != 0 &&
		len(m.Tgts) != 0
}

// Message creates the alert mail with the provided subject and body.
func (m *Mailer) Message(subject, body string) (*mail.Message, error) {
	if !m.valid() {
		return nil, ErrNoCredentials
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.Usr)
	msg.SetHeader("Bcc", m.Tgts...)
	msg.SetHeader("Subject", "[wib-cryo] "+subject)
	msg.SetBody("text/plain", body)
	return msg, nil
}

// Send sends an alert mail.
func (m *Mailer) Send(subject, body string) error {
	msg, err := m.Message(subject, body)
	if err != nil {
		return err
	}

	send := m.send
	if send == nil {
		dial := mail.NewDialer(m.Srv, m.Port, m.Usr, m.Pwd)
		dial.TLSConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
		send = func(msg *mail.Message) error { return dial.DialAndSend(msg) }
	}

	err = send(msg)
	if err != nil {
		return fmt.Errorf("alert: could not send mail: %w", err)
	}
	return nil
}

// Failure returns the subject and body of the alert mail describing
// a failed bring-up step of the WIB at addr.
func Failure(addr, step string, err error) (subject, body string) {
	subject = fmt.Sprintf("%s failed on %s", step, addr)

	o := new(strings.Builder)
	fmt.Fprintf(o, "wib:   %s\nstep:  %s\nerror: %v\n", addr, step, err)

	var lock *wib.LockError
	if errors.As(err, &lock) {
		subject = fmt.Sprintf("rx links of FEMBs %v unlocked on %s", lock.Unlocked, addr)
		fmt.Fprintf(o, "fembs:    %v\nunlocked: %v\nattempts: %d\n",
			lock.FEMBs, lock.Unlocked, lock.Attempts,
		)
	}
	return subject, o.String()
}
