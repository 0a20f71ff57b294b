package serverutils

import (
	"errors"
	"fmt"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

var ErrMissingUser = errors.New("token has no user_id claim")

func parseClaims(tokenStr string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(os.Getenv("JWT_SECRET")), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrMissingUser
	}
	return claims, nil
}

// ParseUserToken validates a bearer token and returns its user_id claim.
func ParseUserToken(tokenStr string) (string, error) {
	claims, err := parseClaims(tokenStr)
	if err != nil {
		return "", err
	}
	userID, _ := claims["user_id"].(string)
	if userID == "" {
		return "", ErrMissingUser
	}
	return userID, nil
}

func bearer(ctx *fiber.Ctx) string {
	authHeader := ctx.Get("Authorization")
	if len(authHeader) < 7 || authHeader[:7] != "Bearer " {
		return ""
	}
	return authHeader[7:]
}

func JwtMiddleware(ctx *fiber.Ctx) error {
	tokenStr := bearer(ctx)
	if tokenStr == "" {
		return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse(fiber.StatusUnauthorized, "Missing token"))
	}

	userID, err := ParseUserToken(tokenStr)
	if err != nil {
		return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse(fiber.StatusUnauthorized, "Invalid token"))
	}

	ctx.Locals("user_id", userID)
	return ctx.Next()
}

// AdminMiddleware additionally requires role=admin in the token.
func AdminMiddleware(ctx *fiber.Ctx) error {
	tokenStr := bearer(ctx)
	if tokenStr == "" {
		return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse(fiber.StatusUnauthorized, "Missing or invalid authorization header"))
	}

	claims, err := parseClaims(tokenStr)
	if err != nil {
		return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse(fiber.StatusUnauthorized, "Invalid or expired token"))
	}
	if role, _ := claims["role"].(string); role != "admin" {
		return ctx.Status(fiber.StatusForbidden).JSON(ErrorResponse(fiber.StatusForbidden, "Access denied: Admins only"))
	}

	if userID, _ := claims["user_id"].(string); userID != "" {
		ctx.Locals("user_id", userID)
	}
	return ctx.Next()
}

// UserID reads the id JwtMiddleware stored.
func UserID(ctx *fiber.Ctx) (string, error) {
	userID, _ := ctx.Locals("user_id").(string)
	if userID == "" {
		return "", NewUnauthorizedError("missing user")
	}
	return userID, nil
}
