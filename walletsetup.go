package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/pocketsuite/pocketwallet/wallet"
	"github.com/pocketsuite/pocketwallet/internal/prompt"
)

// startupCurrencies resolves the configured pocket symbols to currency
// identifiers, defaulting to a single bitcoin pocket when none are
// configured.
func startupCurrencies(cfg *config) ([]wallet.CurrencyID, error) {
	symbols := cfg.Pockets
	if len(symbols) == 0 {
		symbols = []string{"BTC"}
	}

	ids := make([]wallet.CurrencyID, 0, len(symbols))
	for _, symbol := range symbols {
		params, err := wallet.CurrencyBySymbol(symbol)
		if err != nil {
			return nil, err
		}
		ids = append(ids, params.ID)
	}
	return ids, nil
}

// createWallet prompts the user for information needed to generate a new
// wallet and generates the wallet accordingly.  The new wallet will reside at
// the provided path.
func createWallet(cfg *config, walletPath string) error {
	reader := bufio.NewReader(os.Stdin)

	// Ascertain the wallet generation mnemonic.  This will either be an
	// automatically generated value the user has already confirmed or a
	// value the user has entered which has already been validated.
	mnemonic, err := prompt.Mnemonic(reader)
	if err != nil {
		return err
	}

	// Start by prompting for the private passphrase.  An empty passphrase
	// leaves the wallet unencrypted.
	privPass, err := prompt.PrivatePass(reader)
	if err != nil {
		return err
	}

	currencies, err := startupCurrencies(cfg)
	if err != nil {
		return err
	}

	fmt.Println("Creating the wallet...")
	w, err := wallet.NewFromMnemonic(mnemonic, "")
	if err != nil {
		return err
	}
	if err := w.CreatePockets(currencies, true); err != nil {
		return err
	}
	if len(privPass) > 0 {
		if err := w.EncryptWithPassphrase(privPass, nil); err != nil {
			return err
		}
	}

	if _, err := w.AutosaveToFile(walletPath, 0, nil, nil); err != nil {
		return err
	}
	if err := w.SaveNow(); err != nil {
		return err
	}
	if err := w.ShutdownAutosaveAndWait(); err != nil {
		return err
	}

	fmt.Println("The wallet has been created successfully.")
	return nil
}

// checkCreateDir checks that the path exists and is a directory.
// If path does not exist, it is created.
func checkCreateDir(path string) error {
	if fi, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			// Attempt data directory creation
			if err = os.MkdirAll(path, 0700); err != nil {
				return fmt.Errorf("cannot create directory: %s", err)
			}
		} else {
			return fmt.Errorf("error checking directory: %s", err)
		}
	} else {
		if !fi.IsDir() {
			return fmt.Errorf("path '%s' is not a directory", path)
		}
	}

	return nil
}
