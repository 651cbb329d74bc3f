// Package media stores inbound WhatsApp attachments in S3 or on local disk.
package media
