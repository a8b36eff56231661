package kafka

// TopicAuditEvents is the single topic every audit.Event is published to,
// regardless of transaction kind; consumers filter on the event's Kind and
// Outcome fields rather than on topic.
const TopicAuditEvents = "audit.transactions.events"
