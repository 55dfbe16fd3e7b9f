package domain

// ResponseType tags the variant of a Response.
type ResponseType string

const (
	ResponseKnowledge ResponseType = "knowledge"
	ResponseChat      ResponseType = "chat"
	ResponseQuery     ResponseType = "query"
	ResponseBlocked   ResponseType = "blocked"
	ResponseError     ResponseType = "error"
)

// Response is the single tagged value returned for every request. Exactly
// the fields of the tagged variant are populated; credentials and stack
// traces never appear here.
type Response struct {
	Type ResponseType

	// Text holds the answer for Knowledge and Chat responses, or the
	// rejected query text for Blocked responses.
	Text string

	// Query variant.
	Query       string
	Explanation string
	Result      *QueryResult

	// Blocked variant.
	Reason string

	// Error variant.
	ErrorKind string
	Message   string
}

// KnowledgeResponse answers a schema question from cached knowledge.
func KnowledgeResponse(text string) *Response {
	return &Response{Type: ResponseKnowledge, Text: text}
}

// ChatResponse answers a general conversational request.
func ChatResponse(text string) *Response {
	return &Response{Type: ResponseChat, Text: text}
}

// QueryResponse carries an executed query with its explanation and result.
func QueryResponse(query, explanation string, result *QueryResult) *Response {
	return &Response{Type: ResponseQuery, Query: query, Explanation: explanation, Result: result}
}

// BlockedResponse reports a query the sanitizer refused to execute.
func BlockedResponse(text, reason string) *Response {
	return &Response{Type: ResponseBlocked, Text: text, Reason: reason}
}

// ErrorResponse reports a pipeline failure without leaking internals.
func ErrorResponse(kind, message string) *Response {
	return &Response{Type: ResponseError, ErrorKind: kind, Message: message}
}
