// Package channel holds the outreach.Sender implementations: email through
// AWS SES, SMS through an HTTP messaging provider and contact-form
// submission for providers that only publish a web form.
package channel
