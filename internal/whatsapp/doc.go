// Package whatsapp is a small client for the WhatsApp Business Cloud API.
//
// It covers what the gateway needs: sending replies (text, media,
// templates and interactive messages), marking inbound messages as read,
// downloading inbound media by ID, and the webhook subscription handshake.
// There are no retries.
package whatsapp
