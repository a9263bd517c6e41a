// internal/app/system/mailer/templates.go
package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/dalemusser/cohortsync/internal/app/system/htmlsanitize"
)

// GroupPublishedData holds data for the notice sent to a group's author when
// the group goes live.
type GroupPublishedData struct {
	SiteName     string
	AuthorName   string
	GroupTitle   string
	CourseTitles []string
	GroupURL     string
}

// MemberJoinedData holds data for the notice sent to a member added to a group.
type MemberJoinedData struct {
	SiteName         string
	MemberName       string
	GroupTitle       string
	GroupDescription string // plain text or author HTML
	AuthorName       string
	LoginURL         string
}

// MemberEnrolledData holds data for the notice sent when a member's
// enrollment in a course becomes active.
type MemberEnrolledData struct {
	SiteName    string
	MemberName  string
	CourseTitle string
	GroupTitle  string
	CourseURL   string
}

// AccountSetupData holds data for the notice sent to a newly created member.
type AccountSetupData struct {
	SiteName    string
	MemberEmail string
	SetupURL    string
}

// BuildGroupPublishedEmail creates the "group published" email.
func BuildGroupPublishedEmail(data GroupPublishedData) Email {
	courses := "your course"
	if len(data.CourseTitles) > 0 {
		courses = strings.Join(data.CourseTitles, ", ")
	}
	lines := []string{
		fmt.Sprintf("Hi %s,", nameOr(data.AuthorName, "there")),
		fmt.Sprintf("Your group \"%s\" is now published and has access to %s.", data.GroupTitle, courses),
		"You can add members to the group at any time. Each member receives an email when they are enrolled.",
	}
	return build(data.SiteName, fmt.Sprintf("Your %s group is ready", data.SiteName), layoutData{
		Lines:       lines,
		ButtonURL:   data.GroupURL,
		ButtonLabel: "Manage Group",
		Footer:      "You are receiving this email because you purchased a group.",
	})
}

// BuildMemberJoinedEmail creates the "member joined" email.
func BuildMemberJoinedEmail(data MemberJoinedData) Email {
	lines := []string{
		fmt.Sprintf("Hi %s,", nameOr(data.MemberName, "there")),
		fmt.Sprintf("You have been added to the group \"%s\"", data.GroupTitle) + byAuthor(data.AuthorName) + ".",
		"Course access follows the group. You will get a separate email for each course that becomes available.",
	}
	d := layoutData{
		Lines:       lines,
		ButtonURL:   data.LoginURL,
		ButtonLabel: "Sign In",
		Footer:      "If you were not expecting this, contact the person who manages the group.",
	}
	if desc := strings.TrimSpace(data.GroupDescription); desc != "" {
		d.Note = htmlsanitize.PrepareForDisplay(desc)
		if htmlsanitize.IsPlainText(desc) {
			d.NoteText = desc
		}
	}
	return build(data.SiteName, fmt.Sprintf("You have joined %s", data.GroupTitle), d)
}

// BuildMemberEnrolledEmail creates the "member enrolled" email.
func BuildMemberEnrolledEmail(data MemberEnrolledData) Email {
	lines := []string{
		fmt.Sprintf("Hi %s,", nameOr(data.MemberName, "there")),
		fmt.Sprintf("You are now enrolled in %s through the group \"%s\".", data.CourseTitle, data.GroupTitle),
	}
	return build(data.SiteName, fmt.Sprintf("You are enrolled in %s", data.CourseTitle), layoutData{
		Lines:       lines,
		ButtonURL:   data.CourseURL,
		ButtonLabel: "Start Course",
		Footer:      "You are receiving this email because you are a member of a group.",
	})
}

// BuildAccountSetupEmail creates the "finish setting up your account" email.
func BuildAccountSetupEmail(data AccountSetupData) Email {
	lines := []string{
		fmt.Sprintf("An account has been created for %s on %s.", data.MemberEmail, data.SiteName),
		"Use the link below to choose a password. The link works once.",
	}
	return build(data.SiteName, fmt.Sprintf("Set up your %s account", data.SiteName), layoutData{
		Lines:       lines,
		ButtonURL:   data.SetupURL,
		ButtonLabel: "Set Password",
		Footer:      "If you did not expect this account, you can safely ignore this email.",
	})
}

type layoutData struct {
	SiteName    string
	Lines       []string
	Note        template.HTML // sanitized; rendered under Lines
	NoteText    string        // text-body rendition of Note, if any
	ButtonURL   string
	ButtonLabel string
	Footer      string
}

var layoutTmpl = template.Must(template.New("layout").Parse(layoutHTMLTemplate))

func build(siteName, subject string, d layoutData) Email {
	d.SiteName = siteName
	return Email{
		To:       "", // Set by caller
		Subject:  subject,
		TextBody: buildText(d),
		HTMLBody: buildHTML(d),
	}
}

func buildText(d layoutData) string {
	var buf bytes.Buffer
	for _, l := range d.Lines {
		buf.WriteString(l + "\n\n")
	}
	if d.NoteText != "" {
		buf.WriteString(d.NoteText + "\n\n")
	}
	if d.ButtonURL != "" {
		buf.WriteString(d.ButtonLabel + ":\n")
		buf.WriteString(d.ButtonURL + "\n\n")
	}
	buf.WriteString(d.Footer + "\n")
	return buf.String()
}

func buildHTML(d layoutData) string {
	var buf bytes.Buffer
	_ = layoutTmpl.Execute(&buf, d)
	return buf.String()
}

func nameOr(name, fallback string) string {
	if strings.TrimSpace(name) == "" {
		return fallback
	}
	return name
}

func byAuthor(author string) string {
	if strings.TrimSpace(author) == "" {
		return ""
	}
	return " by " + author
}

const layoutHTMLTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>{{.SiteName}}</title>
</head>
<body style="margin: 0; padding: 0; font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif; background-color: #f3f4f6;">
  <table role="presentation" width="100%" cellspacing="0" cellpadding="0" style="background-color: #f3f4f6;">
    <tr>
      <td align="center" style="padding: 40px 20px;">
        <table role="presentation" width="100%" cellspacing="0" cellpadding="0" style="max-width: 480px; background-color: #ffffff; border-radius: 8px; box-shadow: 0 2px 4px rgba(0, 0, 0, 0.1);">
          <tr>
            <td style="padding: 32px 32px 24px; text-align: center; border-bottom: 1px solid #e5e7eb;">
              <h1 style="margin: 0; font-size: 24px; font-weight: 600; color: #4f46e5;">{{.SiteName}}</h1>
            </td>
          </tr>
          <tr>
            <td style="padding: 32px;">
              {{range .Lines}}<p style="margin: 0 0 16px; font-size: 16px; color: #374151; line-height: 1.5;">{{.}}</p>
              {{end}}
              {{if .Note}}<div style="margin: 0 0 16px; padding: 12px 16px; border-left: 3px solid #e5e7eb; font-size: 14px; color: #4b5563;">{{.Note}}</div>
              {{end}}
              {{if .ButtonURL}}
              <table role="presentation" width="100%" cellspacing="0" cellpadding="0">
                <tr>
                  <td align="center" style="padding-top: 8px;">
                    <a href="{{.ButtonURL}}" style="display: inline-block; padding: 14px 32px; background-color: #4f46e5; color: #ffffff; text-decoration: none; font-size: 16px; font-weight: 500; border-radius: 6px;">{{.ButtonLabel}}</a>
                  </td>
                </tr>
              </table>
              {{end}}
            </td>
          </tr>
          <tr>
            <td style="padding: 24px 32px; background-color: #f9fafb; border-top: 1px solid #e5e7eb; border-radius: 0 0 8px 8px;">
              <p style="margin: 0; font-size: 12px; color: #9ca3af; text-align: center;">{{.Footer}}</p>
            </td>
          </tr>
        </table>
      </td>
    </tr>
  </table>
</body>
</html>`
