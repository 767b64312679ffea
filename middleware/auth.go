package middleware

import (
	"errors"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
)

// NewJWKS fetches the backend's signing keys. Called once at startup when
// bearer auth is enabled for the local API.
func NewJWKS(authDomain string) (*keyfunc.JWKS, error) {
	jwksURL := "https://" + authDomain + "/.well-known/jwks.json"
	options := keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	}
	jwks, err := keyfunc.Get(jwksURL, options)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWKS: %w", err)
	}
	return jwks, nil
}

// AuthRequired protects the local API with backend-issued bearer JWTs and
// stores the token subject as user_id for the handlers.
func AuthRequired(jwks *keyfunc.JWKS, audience, issuer string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing Authorization header",
			})
		}

		tokenString := ""
		fmt.Sscanf(authHeader, "Bearer %s", &tokenString)
		if tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid Authorization header format",
			})
		}

		token, err := jwt.Parse(tokenString, jwks.Keyfunc)
		if err != nil || !token.Valid {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid token",
			})
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid token claims",
			})
		}

		if err := verifyAudience(claims, audience); err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid audience",
			})
		}
		if err := verifyIssuer(claims, issuer); err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid issuer",
			})
		}

		sub, ok := claims["sub"].(string)
		if !ok || sub == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid token claims: 'sub' missing",
			})
		}

		c.Locals("user_id", sub)
		return c.Next()
	}
}

// LocalUser is the offline fallback when no auth domain is configured:
// every request runs as the configured local user.
func LocalUser(userID string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals("user_id", userID)
		return c.Next()
	}
}

func verifyAudience(claims jwt.MapClaims, expectedAudience string) error {
	audValue, ok := claims["aud"]
	if !ok {
		return errors.New("audience claim is missing")
	}

	switch aud := audValue.(type) {
	case string:
		if aud != expectedAudience {
			return errors.New("invalid audience")
		}
	case []interface{}:
		found := false
		for _, a := range aud {
			if aStr, ok := a.(string); ok && aStr == expectedAudience {
				found = true
				break
			}
		}
		if !found {
			return errors.New("invalid audience")
		}
	default:
		return errors.New("invalid audience claim format")
	}

	return nil
}

func verifyIssuer(claims jwt.MapClaims, expectedIssuer string) error {
	iss, ok := claims["iss"].(string)
	if !ok {
		return errors.New("issuer claim is missing or invalid")
	}
	if iss != expectedIssuer {
		return errors.New("invalid issuer")
	}
	return nil
}
