package middlewares

import "github.com/gin-gonic/gin"

// abortWithError replies with the api envelope and stops the chain.
func abortWithError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"data":    nil,
		"error":   msg,
	})
}
