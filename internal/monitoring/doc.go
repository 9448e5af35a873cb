// Package monitoring watches ingestion health from the audit and moderation
// logs and posts threshold alerts to a webhook.
package monitoring
