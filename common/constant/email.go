package constant

const EmailCredentialDeliveryTemplate = `
Dear %s,

Great news! Your payment has been confirmed and your tickets are ready.

✅ PAYMENT CONFIRMED ✅

Order Details:
------------------------------------------
Payment Reference: %s
Ticket Type: %s
Total Amount: %s
------------------------------------------

Your tickets:
%s

Each ticket carries a QR code that will be scanned at the venue entrance.
Keep this email safe and do not share your ticket numbers with anyone.

Important Information:
• Please arrive at least 30 minutes before the event starts
• Valid ID may be required for entry
• Each ticket admits one person and can only be scanned once

If you have any questions, please contact our support team at support@ticketbox.io.

Best regards,
Ticketbox Team

Note: This is an automated message, please do not reply to this email.
`

const EmailCredentialTicketLineTemplate = `  • Ticket %s
    QR: %s
`
