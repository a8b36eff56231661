package handlers

import "github.com/gin-gonic/gin"

// callerHeader carries the authenticated caller identity. Authentication
// itself is external to the core; the handler trusts whatever upstream
// middleware (or gateway) set this header.
const callerHeader = "X-Caller-ID"
const elevatedHeader = "X-Caller-Elevated"

func callerFrom(c *gin.Context) string {
	return c.GetHeader(callerHeader)
}

func elevatedFrom(c *gin.Context) bool {
	return c.GetHeader(elevatedHeader) == "true"
}
